// Package file writes statistics lines to files on disk.
//
// The default snapshot mode writes every flush into a temporary file that is
// renamed to <template>_<YYYYmmdd-HH-MM-SS>.log once complete, so readers
// only ever see finished files. The rolling mode appends to a single file
// rotated by lumberjack.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "file"

const (
	ModeSnapshot = "snapshot"
	ModeRolling  = "rolling"

	stampLayout      = "20060102-15-04-05"
	defaultMaxSizeMB = 100
)

// Config is the file sink configuration.
type Config struct {
	Template       string `mapstructure:"template"`        // e.g. /var/log/tcpgeek/stat.log
	RetentionHours int    `mapstructure:"retention_hours"` // 0 keeps files forever
	Owner          string `mapstructure:"owner"`           // user:group, empty keeps the process owner
	Mode           string `mapstructure:"mode"`
	MaxSizeMB      int    `mapstructure:"max_size_mb"` // rolling mode only
}

// Sink writes statistics files.
type Sink struct {
	cfg     Config
	subnets core.Subnets

	dir  string
	base string // template file name without extension

	uid, gid int // -1 when ownership is not changed
	rolling  *lumberjack.Logger

	now func() time.Time
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		var cfg Config
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg, env.Subnets)
	})
}

// New creates the statistics directory if needed and removes expired files.
func New(cfg Config, subnets core.Subnets) (*Sink, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSnapshot
	}
	if cfg.Mode != ModeSnapshot && cfg.Mode != ModeRolling {
		return nil, fmt.Errorf("%w: file mode %q", core.ErrConfigInvalid, cfg.Mode)
	}

	dir, name := filepath.Split(cfg.Template)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		return nil, fmt.Errorf("%w: no statistics file template", core.ErrConfigInvalid)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statistics directory: %w", err)
	}

	s := &Sink{
		cfg:     cfg,
		subnets: subnets,
		dir:     filepath.Clean(dir),
		base:    base,
		uid:     -1,
		gid:     -1,
		now:     time.Now,
	}
	if cfg.Owner != "" {
		s.uid, s.gid = lookupOwner(cfg.Owner)
		slog.Info("statistics files ownership", "owner", cfg.Owner)
	}

	if cfg.Mode == ModeRolling {
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = defaultMaxSizeMB
		}
		s.rolling = &lumberjack.Logger{
			Filename:  cfg.Template,
			MaxSize:   size,
			MaxAge:    (cfg.RetentionHours + 23) / 24,
			LocalTime: true,
		}
		return s, nil
	}

	s.removeExpired()
	return s, nil
}

// lookupOwner resolves user:group to numeric ids. Unknown names leave the
// ownership unchanged.
func lookupOwner(owner string) (int, int) {
	userName, groupName, _ := strings.Cut(owner, ":")
	u, err := user.Lookup(userName)
	if err != nil {
		slog.Error("failed to get uid", "user", userName, "error", err)
		return -1, -1
	}
	g, err := user.LookupGroup(groupName)
	if err != nil {
		slog.Error("failed to get gid", "group", groupName, "error", err)
		return -1, -1
	}
	return parseIDs(u.Uid, g.Gid)
}

// parseIDs converts the ids returned by os/user. Non-numeric ids (Windows
// SIDs) leave the ownership unchanged.
func parseIDs(uidText, gidText string) (int, int) {
	uid, err := strconv.Atoi(uidText)
	if err != nil {
		slog.Error("non-numeric uid", "uid", uidText)
		return -1, -1
	}
	gid, err := strconv.Atoi(gidText)
	if err != nil {
		slog.Error("non-numeric gid", "gid", gidText)
		return -1, -1
	}
	return uid, gid
}

func (s *Sink) Name() string {
	return Name
}

// Write renders records as statistics lines.
func (s *Sink) Write(_ context.Context, records []core.StatRecord) error {
	if s.rolling != nil {
		if err := s.writeLines(s.rolling, records); err != nil {
			return err
		}
		// lumberjack recreates the file on rotation
		s.chown(s.cfg.Template)
		return nil
	}

	tmp := filepath.Join(s.dir, s.base+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if err := s.writeLines(f, records); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	target := s.targetName()
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename statistics file %s: %w", target, err)
	}
	s.chown(target)
	s.removeExpired()
	return nil
}

func (s *Sink) chown(path string) {
	if s.uid < 0 {
		return
	}
	if err := os.Chown(path, s.uid, s.gid); err != nil {
		slog.Error("failed to chown statistics file", "file", path, "error", err)
	}
}

// isStatFile reports whether name was produced by targetName:
// <base>[<n>]_<stamp>.log.
func (s *Sink) isStatFile(name string) bool {
	rest, ok := strings.CutPrefix(name, s.base)
	if !ok {
		return false
	}
	rest, ok = strings.CutSuffix(rest, ".log")
	if !ok {
		return false
	}
	counter, stamp, ok := strings.Cut(rest, "_")
	if !ok {
		return false
	}
	for _, c := range counter {
		if c < '0' || c > '9' {
			return false
		}
	}
	_, err := time.Parse(stampLayout, stamp)
	return err == nil
}

func (s *Sink) writeLines(w io.Writer, records []core.StatRecord) error {
	bw := bufio.NewWriter(w)
	for i := range records {
		line := stats.FormatLine(&records[i], s.subnets)
		if stats.ExcessiveGaps(&records[i]) {
			slog.Warn("inadequate active sequence gaps", "line", line)
		}
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	return nil
}

// targetName picks the final file name, adding a counter to the template
// when a file of the same second already exists.
func (s *Sink) targetName() string {
	stamp := s.now().Format(stampLayout)
	name := filepath.Join(s.dir, s.base+"_"+stamp+".log")
	for i := 0; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		name = filepath.Join(s.dir, s.base+strconv.Itoa(i)+"_"+stamp+".log")
	}
}

// removeExpired deletes statistics files older than the retention period.
func (s *Sink) removeExpired() {
	if s.cfg.RetentionHours <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("failed to list statistics directory", "dir", s.dir, "error", err)
		return
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionHours) * time.Hour)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !s.isStatFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			slog.Warn("failed to remove expired statistics file", "file", name, "error", err)
		}
	}
}

func (s *Sink) Close() error {
	if s.rolling != nil {
		return s.rolling.Close()
	}
	return nil
}
