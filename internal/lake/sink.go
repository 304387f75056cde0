// Package lake writes and reads the date-partitioned JSON data lake.
package lake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/blockedby/tg-lake/internal/models"
)

// Layout constants of the lake.
const (
	MessagesDir = "telegram_messages"
	ChannelsDir = "channels"
)

// Sink replaces whole (channel, date) partitions.
type Sink interface {
	// ReplacePartition atomically replaces the partition content. Readers
	// observe either the old or the new content, never a mix.
	ReplacePartition(ctx context.Context, channel, date string, messages []models.Message) error
}

// PartitionPath returns the lake-relative path of a partition.
func PartitionPath(channel, date string) string {
	safe := models.SafeChannelName(channel)
	return path.Join(MessagesDir, date, fmt.Sprintf("%s_%s.json", safe, date))
}

// ChannelPath returns the lake-relative path of a channel side record.
func ChannelPath(channel string) string {
	return path.Join(ChannelsDir, models.SafeChannelName(channel)+"_info.json")
}

// FileSink stores partitions as indented JSON files on an afero filesystem.
type FileSink struct {
	fs   afero.Fs
	root string
}

// NewFileSink creates a sink rooted at root.
func NewFileSink(fs afero.Fs, root string) *FileSink {
	return &FileSink{fs: fs, root: root}
}

// NewOSFileSink creates a sink on the local disk.
func NewOSFileSink(root string) *FileSink {
	return NewFileSink(afero.NewOsFs(), root)
}

// ReplacePartition implements Sink.
func (s *FileSink) ReplacePartition(ctx context.Context, channel, date string, messages []models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return s.writeJSON(PartitionPath(channel, date), messages)
}

// PutChannel writes the channel side record, replacing any previous one.
func (s *FileSink) PutChannel(ctx context.Context, channel string, rec *models.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeJSON(ChannelPath(channel), rec)
}

func (s *FileSink) full(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// writeJSON encodes v to a temp file in the target directory and renames it
// over the target.
func (s *FileSink) writeJSON(rel string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}

	target := s.full(rel)
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := s.fs.Chmod(tmpName, 0644); err != nil && !os.IsNotExist(err) {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", rel, err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

// Encode renders v the way the lake stores it: two-space indent, no HTML
// escaping, trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// isTemp reports whether name is an in-flight temp file.
func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

func sortedNames(infos []os.FileInfo, dirs bool) []string {
	var names []string
	for _, fi := range infos {
		if fi.IsDir() != dirs || isTemp(fi.Name()) {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}
