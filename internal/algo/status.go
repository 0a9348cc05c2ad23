package algo

// Status 表示算法运行状态。
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusStopped  Status = "stopped"
)

// Terminal 判断状态是否为终态，终态算法不会再被调度。
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFinished
}
