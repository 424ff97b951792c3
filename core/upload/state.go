package upload

// State 表示上传会话在其生命周期中的位置。
// 状态单向推进，任何非终态都可进入 Failed；
// 在被观察期间任何状态都可能进入 Cancelled。
type State string

const (
	StateInitialized       State = "initialized"
	StateReceiving         State = "receiving"
	StateAssembling        State = "assembling"
	StateValidating        State = "validating"
	StateAnalyzing         State = "analyzing"
	StatePreviewGenerating State = "preview_generating"
	StatePersisting        State = "persisting"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}
