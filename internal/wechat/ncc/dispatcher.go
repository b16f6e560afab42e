package ncc

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/logger"
)

// Deliverer 投递通道。由微信客户端实现，测试里用假实现。
type Deliverer interface {
	SendText(ctx context.Context, receiver, text string) error
	SendImage(ctx context.Context, receiver, path string) error
	ForwardRef(ctx context.Context, receiver string, msgID uint64) error
}

// Pacing 投递节奏与重试参数。测试把延迟全部置零来跑确定性用例。
type Pacing struct {
	MessageDelayMin time.Duration // 同一群内两条消息之间
	MessageDelayMax time.Duration
	GroupDelayMin   time.Duration // 两个群之间
	GroupDelayMax   time.Duration
	BatchDelayMin   time.Duration // 每投递 BatchSize 个群后加长休息
	BatchDelayMax   time.Duration
	BatchSize       int

	MaxAttempts  int           // 单条消息最多尝试次数
	RetryBackoff time.Duration // 失败后的固定等待
}

// DefaultPacing 生产节奏：随机间隔模拟人工操作，降低风控风险
func DefaultPacing() Pacing {
	return Pacing{
		MessageDelayMin: 1 * time.Second,
		MessageDelayMax: 2 * time.Second,
		GroupDelayMin:   3 * time.Second,
		GroupDelayMax:   5 * time.Second,
		BatchDelayMin:   5 * time.Second,
		BatchDelayMax:   10 * time.Second,
		BatchSize:       10,
		MaxAttempts:     3,
		RetryBackoff:    2 * time.Second,
	}
}

// Job 一次转发任务：同一批消息投递到一组目标群
type Job struct {
	Operator   string             // 发起人 wxid，汇报结果用
	TargetDesc string             // 目标描述（“全部转发群”或列表名）
	Messages   []CollectedMessage // 按收集顺序投递
	Targets    []string           // 目标群 wxid
}

// GroupFailure 单个群的失败明细
type GroupFailure struct {
	GroupWxid string
	Failed    int
	LastErr   string
}

// JobResult 一次任务的投递结果
type JobResult struct {
	Delivered int
	Failed    int
	Failures  []GroupFailure
}

// Dispatcher 转发队列的唯一消费者。
// 任务按入队顺序逐个执行，永不并发投递，失败不丢任务。
type Dispatcher struct {
	sender Deliverer
	pacing Pacing

	// 群名解析，汇报失败明细时把 wxid 换成可读名字
	groupName func(wxid string) string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	started bool
	stopped bool
	done    chan struct{}
}

// NewDispatcher 创建转发调度器（需要 Start 后才开始消费）
func NewDispatcher(sender Deliverer, pacing Pacing, groupName func(string) string) *Dispatcher {
	if pacing.MaxAttempts <= 0 {
		pacing.MaxAttempts = 1
	}
	if groupName == nil {
		groupName = func(wxid string) string { return wxid }
	}
	d := &Dispatcher{
		sender:    sender,
		pacing:    pacing,
		groupName: groupName,
		done:      make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start 启动消费循环。ctx 取消后当前任务收尾退出。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	go d.run(ctx)
}

// Stop 停止接收新任务并让消费循环退出，阻塞到退出完成
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	started := d.started
	alreadyStopped := d.stopped
	d.stopped = true
	if !alreadyStopped {
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

// Enqueue 追加一个转发任务。队列不设上限，停止后拒绝。
func (d *Dispatcher) Enqueue(job *Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return fmt.Errorf("dispatcher stopped")
	}
	d.queue = append(d.queue, job)
	d.cond.Signal()
	return nil
}

// Pending 返回当前排队任务数
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		job := d.next()
		if job == nil {
			return
		}
		d.execute(ctx, job)
	}
}

// next 阻塞取下一个任务，停止时返回 nil
func (d *Dispatcher) next() *Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.stopped {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return nil
	}
	job := d.queue[0]
	d.queue = d.queue[1:]
	return job
}

// execute 按群为外层、消息为内层的顺序投递一个任务，最后汇报给发起人
func (d *Dispatcher) execute(ctx context.Context, job *Job) {
	start := time.Now()
	logger.L().Infof("开始转发任务: %d 条消息 → %d 个群 (%s)",
		len(job.Messages), len(job.Targets), job.TargetDesc)

	result := &JobResult{}
	for gi, target := range job.Targets {
		if ctx.Err() != nil {
			logger.L().Warnf("转发任务中断: 已处理 %d/%d 个群", gi, len(job.Targets))
			return
		}

		failed := 0
		var lastErr error
		for mi, msg := range job.Messages {
			if err := d.deliverWithRetry(ctx, target, msg); err != nil {
				failed++
				lastErr = err
				logger.L().Errorf("投递失败: 群=%s 消息=%s: %v", target, msg.Describe(), err)
			} else {
				result.Delivered++
			}
			if mi < len(job.Messages)-1 {
				d.pause(ctx, d.pacing.MessageDelayMin, d.pacing.MessageDelayMax)
			}
		}
		if failed > 0 {
			result.Failed += failed
			result.Failures = append(result.Failures, GroupFailure{
				GroupWxid: target,
				Failed:    failed,
				LastErr:   lastErr.Error(),
			})
		}

		if gi < len(job.Targets)-1 {
			if d.pacing.BatchSize > 0 && (gi+1)%d.pacing.BatchSize == 0 {
				d.pause(ctx, d.pacing.BatchDelayMin, d.pacing.BatchDelayMax)
			} else {
				d.pause(ctx, d.pacing.GroupDelayMin, d.pacing.GroupDelayMax)
			}
		}
	}

	logger.L().Infof("转发任务完成: 成功 %d 失败 %d 耗时 %s",
		result.Delivered, result.Failed, time.Since(start).Round(time.Second))

	if err := d.sender.SendText(ctx, job.Operator, d.summarize(job, result)); err != nil {
		logger.L().Errorf("转发结果汇报失败: %v", err)
	}
}

// deliverWithRetry 投递单条消息，失败后原地重试到次数上限
func (d *Dispatcher) deliverWithRetry(ctx context.Context, target string, msg CollectedMessage) error {
	var err error
	for attempt := 1; attempt <= d.pacing.MaxAttempts; attempt++ {
		if err = d.deliver(ctx, target, msg); err == nil {
			return nil
		}
		if attempt < d.pacing.MaxAttempts {
			logger.L().Warnf("投递失败，准备第 %d 次重试: 群=%s: %v", attempt+1, target, err)
			d.pause(ctx, d.pacing.RetryBackoff, d.pacing.RetryBackoff)
		}
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, target string, msg CollectedMessage) error {
	switch m := msg.(type) {
	case TextMessage:
		return d.sender.SendText(ctx, target, m.Content)
	case ImageMessage:
		return d.sender.SendImage(ctx, target, m.LocalPath)
	case RefMessage:
		return d.sender.ForwardRef(ctx, target, m.MsgID)
	default:
		return fmt.Errorf("unknown message variant %T", msg)
	}
}

// pause 随机休眠 [min, max]，ctx 取消时立即返回
func (d *Dispatcher) pause(ctx context.Context, min, max time.Duration) {
	if max <= 0 {
		return
	}
	delay := min
	if max > min {
		delay = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// summarize 生成发给操作员的结果汇报
func (d *Dispatcher) summarize(job *Job, result *JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "转发完成（%s）\n成功 %d 条，失败 %d 条", job.TargetDesc, result.Delivered, result.Failed)
	if len(result.Failures) > 0 {
		b.WriteString("\n失败明细：")
		for _, f := range result.Failures {
			fmt.Fprintf(&b, "\n- %s：%d 条失败（%s）", d.groupName(f.GroupWxid), f.Failed, f.LastErr)
		}
	}
	return b.String()
}
