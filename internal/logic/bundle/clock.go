package bundle

import "time"

// Clock 抽象时间，确认轮询在测试中使用假时钟
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock 系统时钟
var RealClock Clock = realClock{}
