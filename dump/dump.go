// Package dump writes debug renderings of graphs to a pluggable Sink.
//
// Dumps are best effort: failures are logged and never reported to the caller. By default
// graphs are logged with klog at verbosity 3, see SetSink to write them elsewhere.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/serial"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sink receives the dumps.
type Sink interface {
	// Enabled reports whether dumps should be rendered at all.
	Enabled() bool

	// Dump consumes one rendering. The name is the dump label plus an extension for its format.
	Dump(name string, content []byte)
}

var (
	muSink      sync.Mutex
	currentSink Sink = KlogSink{Level: 3}
)

// SetSink changes where dumps go and returns the previous sink. A nil sink disables dumps.
func SetSink(sink Sink) (previous Sink) {
	muSink.Lock()
	defer muSink.Unlock()
	previous = currentSink
	currentSink = sink
	return
}

func activeSink() Sink {
	muSink.Lock()
	defer muSink.Unlock()
	if currentSink == nil || !currentSink.Enabled() {
		return nil
	}
	return currentSink
}

// DumpGraph sends the text rendering of g (see autofuse.Graph.Write) to the sink.
func DumpGraph(g *autofuse.Graph, label string) {
	sink := activeSink()
	if sink == nil || g == nil {
		return
	}
	sink.Dump(label+".txt", []byte(g.String()))
}

// DumpComputeGraph sends the serialized form of g (see serial.Marshal) to the sink.
func DumpComputeGraph(g *autofuse.Graph, label string) {
	sink := activeSink()
	if sink == nil || g == nil {
		return
	}
	data, err := serial.Marshal(g)
	if err != nil {
		klog.Warningf("dump %q of graph %q failed: %+v", label, g.Name, err)
		return
	}
	sink.Dump(label+".yaml", data)
}

// KlogSink logs dumps with klog, if the verbosity is at least Level.
type KlogSink struct {
	Level klog.Level
}

// Enabled implements Sink.
func (s KlogSink) Enabled() bool {
	return klog.V(s.Level).Enabled()
}

// Dump implements Sink.
func (s KlogSink) Dump(name string, content []byte) {
	klog.V(s.Level).Infof("dump %s:\n%s", name, content)
}

// DirSink writes each dump to its own file in a directory, prefixed by a sequence number so the
// files sort in dump order.
type DirSink struct {
	dir     string
	counter atomic.Int64
}

// NewDirSink creates the directory if needed and returns a sink writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating dump directory %q", dir)
	}
	return &DirSink{dir: dir}, nil
}

// Enabled implements Sink.
func (s *DirSink) Enabled() bool { return true }

// Dump implements Sink.
func (s *DirSink) Dump(name string, content []byte) {
	ext := filepath.Ext(name)
	base := utils.NormalizeIdentifier(strings.TrimSuffix(name, ext))
	fileName := fmt.Sprintf("%04d_%s%s", s.counter.Add(1), base, ext)
	path := filepath.Join(s.dir, fileName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		klog.Warningf("failed to write dump %q: %v", path, err)
	}
}
