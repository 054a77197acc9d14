// Package upload reassembles chunked file uploads into complete recordings.
//
// Chunks for one upload are keyed by (filename, index) and persisted to a
// per-filename scratch directory, so arrival order does not matter. The final
// artifact is written only once the terminal chunk has been observed and
// every fragment is present; its bytes are the ordered concatenation of the
// fragments by index.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"
)

// ChunkResult reports the outcome of storing one chunk
type ChunkResult struct {
	Complete  bool   `json:"complete"`
	Index     int    `json:"index"`
	FinalPath string `json:"final_path,omitempty"`
}

// session tracks in-flight assembly state for one filename
type session struct {
	total        int
	terminalSeen bool
	received     map[int]bool
}

// Assembler reassembles uploads from ordered byte chunks
type Assembler struct {
	logger     *logrus.Logger
	scratchDir string
	finalDir   string
	ttl        time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewAssembler creates an assembler writing fragments under scratchDir and
// completed files under finalDir
func NewAssembler(logger *logrus.Logger, scratchDir, finalDir string, ttl time.Duration) (*Assembler, error) {
	for _, dir := range []string{scratchDir, finalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create upload directory", map[string]interface{}{"dir": dir})
		}
	}

	return &Assembler{
		logger:     logger,
		scratchDir: scratchDir,
		finalDir:   finalDir,
		ttl:        ttl,
		sessions:   make(map[string]*session),
	}, nil
}

// PutChunk stores one fragment and, once the terminal chunk has been seen and
// all fragments are present, assembles the final file. Duplicate indexes
// overwrite the previous fragment; retries resend identical bytes.
func (a *Assembler) PutChunk(filename string, index, totalChunks int, data []byte) (*ChunkResult, error) {
	if totalChunks <= 0 {
		return nil, errors.New("total chunk count must be positive", map[string]interface{}{"total": totalChunks})
	}
	if index < 0 || index >= totalChunks {
		return nil, errors.New(fmt.Sprintf("chunk index %d out of range [0,%d)", index, totalChunks))
	}

	dir := a.sessionDir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create scratch directory")
	}

	// Durable scratch write before any bookkeeping, so a crash never loses
	// an acknowledged fragment
	fragPath := filepath.Join(dir, fragmentName(index))
	if err := os.WriteFile(fragPath, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write fragment", map[string]interface{}{
			"filename": filename,
			"index":    index,
		})
	}

	a.mu.Lock()
	sess, ok := a.sessions[filename]
	if !ok {
		sess = &session{total: totalChunks, received: make(map[int]bool)}
		a.sessions[filename] = sess
	}
	sess.total = totalChunks
	sess.received[index] = true
	if index == totalChunks-1 {
		sess.terminalSeen = true
	}
	ready := sess.terminalSeen && len(sess.received) == sess.total
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"filename": filename,
		"index":    index,
		"total":    totalChunks,
		"bytes":    len(data),
	}).Debug("Stored upload fragment")

	if !ready {
		return &ChunkResult{Complete: false, Index: index}, nil
	}

	finalPath, err := a.assemble(filename, totalChunks)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	delete(a.sessions, filename)
	a.mu.Unlock()

	return &ChunkResult{Complete: true, Index: index, FinalPath: finalPath}, nil
}

// assemble concatenates fragments 0..total-1 in index order into the final
// artifact and reclaims the scratch directory
func (a *Assembler) assemble(filename string, total int) (string, error) {
	dir := a.sessionDir(filename)
	finalPath := filepath.Join(a.finalDir, filepath.Base(filename))

	out, err := os.Create(finalPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to create final file", map[string]interface{}{"path": finalPath})
	}

	for i := 0; i < total; i++ {
		frag, err := os.Open(filepath.Join(dir, fragmentName(i)))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return "", errors.NewAssemblyIncomplete(filename, 1).WithField("index", i)
		}

		_, err = io.Copy(out, frag)
		frag.Close()
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return "", errors.Wrap(err, "failed to concatenate fragment", map[string]interface{}{
				"filename": filename,
				"index":    i,
			})
		}
	}

	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close final file")
	}

	// Scratch fragments must not leak into a later session reusing the name
	if err := os.RemoveAll(dir); err != nil {
		a.logger.WithError(err).WithField("dir", dir).Warn("Failed to reclaim scratch fragments")
	}

	a.logger.WithFields(logrus.Fields{
		"filename": filename,
		"chunks":   total,
		"path":     finalPath,
	}).Info("Upload assembly complete")

	return finalPath, nil
}

// Pending returns the filenames with assembly still in flight
func (a *Assembler) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.sessions))
	for name := range a.sessions {
		names = append(names, name)
	}
	return names
}

// Sweep removes scratch directories whose newest fragment is older than the
// TTL. Abandoned uploads would otherwise hold disk forever.
func (a *Assembler) Sweep() int {
	entries, err := os.ReadDir(a.scratchDir)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to read scratch directory during sweep")
		return 0
	}

	cutoff := time.Now().Add(-a.ttl)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(a.scratchDir, entry.Name())
		if newestModTime(dir).After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			a.logger.WithError(err).WithField("dir", dir).Warn("Failed to remove expired scratch directory")
			continue
		}

		a.mu.Lock()
		for name := range a.sessions {
			if a.sessionKey(name) == entry.Name() {
				delete(a.sessions, name)
			}
		}
		a.mu.Unlock()

		removed++
		if metrics.UploadsExpired != nil {
			metrics.UploadsExpired.Inc()
		}
		a.logger.WithField("dir", dir).Info("Reclaimed expired upload fragments")
	}

	return removed
}

// RunSweeper runs Sweep at the given interval until the stop channel closes
func (a *Assembler) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

func (a *Assembler) sessionDir(filename string) string {
	return filepath.Join(a.scratchDir, a.sessionKey(filename))
}

// sessionKey maps a client-supplied filename to a safe directory name
func (a *Assembler) sessionKey(filename string) string {
	key := filepath.Base(filename)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return replacer.Replace(key)
}

func fragmentName(index int) string {
	return fmt.Sprintf("%06d.part", index)
}

func newestModTime(dir string) time.Time {
	var newest time.Time

	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}
