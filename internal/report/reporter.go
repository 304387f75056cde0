// Package report persists and presents run summaries.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
)

// Publisher announces finalized runs.
type Publisher interface {
	PublishRunCompleted(ctx context.Context, s *models.RunSummary) error
}

// ErrNotFound is returned when a summary does not exist.
var ErrNotFound = errors.New("summary not found")

const filePrefix = "scraping_summary_"

// FileName returns the summary file name for s.
func FileName(s *models.RunSummary) string {
	id := s.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s%s_%s.json", filePrefix, s.StartTime.UTC().Format("20060102_150405"), id)
}

// Reporter writes the summary file, prints the console table and publishes
// the completion event.
type Reporter struct {
	fs        afero.Fs
	dir       string
	out       io.Writer
	publisher Publisher
	log       *logger.Logger
}

// NewReporter creates a reporter writing into dir. out and publisher may be nil.
func NewReporter(fs afero.Fs, dir string, out io.Writer, publisher Publisher) *Reporter {
	return &Reporter{fs: fs, dir: dir, out: out, publisher: publisher, log: logger.Get()}
}

// Report persists s. Summary files are never overwritten. Console and
// publishing failures are logged only.
func (r *Reporter) Report(ctx context.Context, s *models.RunSummary) error {
	snap := s.Snapshot()

	path, err := r.writeFile(snap)
	if err != nil {
		return err
	}
	r.log.Info().Str("path", path).Str("session_id", snap.SessionID).Msg("report: summary written")

	if r.out != nil {
		if err := PrintTable(r.out, snap); err != nil {
			r.log.Warn().Err(err).Msg("report: failed to print summary")
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishRunCompleted(ctx, snap); err != nil {
			r.log.Warn().Err(err).Msg("report: failed to publish run summary")
		}
	}
	return nil
}

func (r *Reporter) writeFile(s *models.RunSummary) (string, error) {
	if err := r.fs.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	data, err := lake.Encode(s)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, FileName(s))
	f, err := r.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create summary file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write summary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close summary file: %w", err)
	}
	return path, nil
}

// PrintTable renders the human-readable run summary.
func PrintTable(w io.Writer, s *models.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Session:\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "Duration:\t%s\n", (time.Duration(s.DurationSeconds * float64(time.Second))).Round(time.Second))
	fmt.Fprintf(tw, "Messages:\t%s\n", humanize.Comma(int64(s.TotalMessages)))
	fmt.Fprintf(tw, "Images:\t%s\n", humanize.Comma(int64(s.TotalImages)))
	fmt.Fprintf(tw, "Channels:\t%d ok, %d failed\n", s.ChannelsSuccess, s.ChannelsFailed)
	if s.Cancelled {
		fmt.Fprintf(tw, "Cancelled:\tyes\n")
	}
	if s.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *s.Error)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CHANNEL\tSTATE\tMESSAGES\tIMAGES\tERROR")
	for _, o := range s.ChannelDetails {
		detail := "-"
		if o.Error != nil {
			detail = *o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", o.Channel, o.State, o.MessagesScraped, o.ImagesDownloaded, detail)
	}
	return tw.Flush()
}

// Archive reads summaries back from the log directory.
type Archive struct {
	fs  afero.Fs
	dir string
}

// NewArchive creates an archive over dir.
func NewArchive(fs afero.Fs, dir string) *Archive {
	return &Archive{fs: fs, dir: dir}
}

// List returns all summaries, newest first.
func (a *Archive) List() ([]*models.RunSummary, error) {
	infos, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	var names []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasPrefix(fi.Name(), filePrefix) && strings.HasSuffix(fi.Name(), ".json") {
			names = append(names, fi.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]*models.RunSummary, 0, len(names))
	for _, name := range names {
		s, err := a.read(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get returns the summary with the given session id.
func (a *Archive) Get(sessionID string) (*models.RunSummary, error) {
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.SessionID == sessionID {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (a *Archive) read(name string) (*models.RunSummary, error) {
	data, err := afero.ReadFile(a.fs, filepath.Join(a.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	s, err := models.DecodeRunSummary(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return s, nil
}
