// Package task runs offline maintenance jobs over a meta-tile store.
package task

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Task 批处理任务, 用固定数量的 worker 处理一组文件
type Task struct {
	ID          string
	Name        string
	Total       int64
	Bar         *pb.ProgressBar
	workerCount int
	out         io.Writer
	tileWG      sync.WaitGroup
	abortOnce   sync.Once
	abort       chan struct{}
	workers     chan struct{}
	log         logrus.FieldLogger
}

// NewTask 创建任务. out receives the progress bar; nil means stdout.
func NewTask(name string, workers int, out io.Writer, log logrus.FieldLogger) *Task {
	if workers < 1 {
		workers = 1
	}
	id, _ := shortid.Generate()
	return &Task{
		ID:          id,
		Name:        name,
		workerCount: workers,
		out:         out,
		abort:       make(chan struct{}),
		workers:     make(chan struct{}, workers),
		log:         log.WithField("component", name),
	}
}

// AbortFun 结束任务, 已经开始的文件会处理完
func (task *Task) AbortFun() {
	task.abortOnce.Do(func() { close(task.abort) })
}

// run feeds jobs to the workers and waits for them. It reports false when the
// task was aborted before every job was started.
func (task *Task) run(jobs []string, fn func(string)) bool {
	task.Total = int64(len(jobs))
	task.Bar = pb.New64(task.Total).Prefix(fmt.Sprintf("%s : ", task.Name))
	task.Bar.SetRefreshRate(time.Second)
	if task.out != nil {
		task.Bar.Output = task.out
	}
	task.Bar.Start()

	completed := true
loop:
	for _, job := range jobs {
		select {
		case <-task.abort:
			task.log.Infof("Task %s got canceled.", task.ID)
			completed = false
			break loop
		default:
		}
		select {
		// 向队列发送数据
		case task.workers <- struct{}{}:
			task.tileWG.Add(1)
			go func(job string) {
				//workers完成并清退
				defer func() {
					task.Bar.Increment()
					task.tileWG.Done()
					<-task.workers
				}()
				fn(job)
			}(job)
		case <-task.abort:
			task.log.Infof("Task %s got canceled.", task.ID)
			completed = false
			break loop
		}
	}
	task.tileWG.Wait()
	task.Bar.FinishPrint(fmt.Sprintf("Task %s %s finished ~", task.ID, task.Name))
	return completed
}
