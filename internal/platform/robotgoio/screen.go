package robotgoio

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/pairkvm/kvm/internal/platform"
)

// ScreenSource is a platform.ScreenSource that polls robotgo's screen
// capture at a fixed rate. robotgo captures the whole display; Configure
// only applies the frame rate, its width/height are ignored and frames are
// delivered at the display's native size.
type ScreenSource struct {
	mu        sync.Mutex
	frameRate int
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewScreenSource() *ScreenSource { return &ScreenSource{} }

func (s *ScreenSource) Configure(width, height, frameRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frameRate <= 0 {
		frameRate = 60
	}
	s.frameRate = frameRate
	return nil
}

func (s *ScreenSource) Bounds() (int, int, error) {
	w, h := robotgo.GetScreenSize()
	return w, h, nil
}

func (s *ScreenSource) Start(onFrame func(*image.RGBA, uint32), onError func(error)) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return fmt.Errorf("robotgoio: screen source already started")
	}
	rate := s.frameRate
	if rate <= 0 {
		rate = 60
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := time.Second / time.Duration(rate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bitmap := robotgo.CaptureScreen()
				img := robotgo.ToImage(bitmap)
				robotgo.FreeBitmap(bitmap)
				rgba, ok := img.(*image.RGBA)
				if !ok {
					onError(fmt.Errorf("robotgoio: unexpected capture image type %T", img))
					return
				}
				onFrame(rgba, uint32(time.Since(start).Milliseconds()))
			}
		}
	}()
	return nil
}

func (s *ScreenSource) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		s.wg.Wait()
	})
	return nil
}

// PermissionProbe reports permissions as always granted: robotgo enforces
// OS screen-recording/accessibility permissions at the point of the
// underlying call (capture, hook install) rather than exposing a
// pre-flight check, so there is nothing for Check to probe independently.
// Prompt is a no-op for the same reason; the OS shows its own permission
// dialog the first time a gated call is made.
type PermissionProbe struct{}

func NewPermissionProbe() *PermissionProbe { return &PermissionProbe{} }

func (PermissionProbe) Check(name string) (bool, error) { return true, nil }
func (PermissionProbe) Prompt(name string) error        { return nil }
