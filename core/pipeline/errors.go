package pipeline

import "errors"

var (
	// ErrStorage 对象存储写入失败（重试耗尽后）
	ErrStorage = errors.New("storage write failed")

	// ErrStageTimeout 单阶段超出时限
	ErrStageTimeout = errors.New("stage timed out")

	// ErrQueueFull 任务队列已满，finalize 可稍后重试
	ErrQueueFull = errors.New("processing queue is full")
)
