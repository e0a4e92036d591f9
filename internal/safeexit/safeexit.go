// Package safeexit runs registered cleanup callbacks when the process is
// asked to stop.
package safeexit

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// SafeExit 安全退出, 收到信号后按注册的逆序执行回调
type SafeExit struct {
	funcs []func()
	mu    sync.Mutex
	once  sync.Once
	done  chan struct{}
	log   logrus.FieldLogger
}

// New creates a SafeExit; call Listen to start watching signals.
func New(log logrus.FieldLogger) *SafeExit {
	return &SafeExit{done: make(chan struct{}), log: log}
}

// Register adds f to the callbacks run on exit.
func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Exit runs the callbacks once, most recently registered first.
func (s *SafeExit) Exit() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i := len(s.funcs) - 1; i >= 0; i-- {
			s.funcs[i]()
		}
		close(s.done)
	})
}

// Done is closed once every callback has returned.
func (s *SafeExit) Done() <-chan struct{} {
	return s.done
}

// Listen calls Exit on SIGHUP, SIGINT, SIGTERM or SIGQUIT.
func (s *SafeExit) Listen() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigs
		signal.Stop(sigs)
		s.log.Infof("收到系统信号 %s, 正在停止服务, 请稍后", sig)
		s.Exit()
	}()
}
