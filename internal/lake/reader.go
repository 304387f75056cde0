package lake

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/blockedby/tg-lake/internal/models"
)

// Reader is the catalog view over the lake used by downstream loaders.
type Reader struct {
	fs   afero.Fs
	root string
}

// NewReader creates a reader rooted at root.
func NewReader(fs afero.Fs, root string) *Reader {
	return &Reader{fs: fs, root: root}
}

// NewOSReader creates a reader on the local disk.
func NewOSReader(root string) *Reader {
	return NewReader(afero.NewOsFs(), root)
}

// PartitionFile is a partition found on disk.
type PartitionFile struct {
	Date    string
	Channel string // safe channel name
	Path    string // lake-relative
}

// Partitions lists partitions ordered by date, then channel. An empty lake
// yields no partitions.
func (r *Reader) Partitions() ([]PartitionFile, error) {
	dir := filepath.Join(r.root, MessagesDir)
	dateInfos, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var out []PartitionFile
	for _, date := range sortedNames(dateInfos, true) {
		files, err := afero.ReadDir(r.fs, filepath.Join(dir, date))
		if err != nil {
			return nil, fmt.Errorf("list partition %s: %w", date, err)
		}
		suffix := "_" + date + ".json"
		for _, name := range sortedNames(files, false) {
			if !strings.HasSuffix(name, suffix) {
				continue
			}
			out = append(out, PartitionFile{
				Date:    date,
				Channel: strings.TrimSuffix(name, suffix),
				Path:    path.Join(MessagesDir, date, name),
			})
		}
	}
	return out, nil
}

// ReadPartition decodes one partition.
func (r *Reader) ReadPartition(p PartitionFile) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.readJSON(p.Path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Channels returns all channel side records.
func (r *Reader) Channels() ([]models.Channel, error) {
	infos, err := afero.ReadDir(r.fs, filepath.Join(r.root, ChannelsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list channels: %w", err)
	}

	var out []models.Channel
	for _, name := range sortedNames(infos, false) {
		if !strings.HasSuffix(name, "_info.json") {
			continue
		}
		var ch models.Channel
		if err := r.readJSON(path.Join(ChannelsDir, name), &ch); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (r *Reader) readJSON(rel string, v any) error {
	data, err := afero.ReadFile(r.fs, filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}
