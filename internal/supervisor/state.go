package supervisor

// State is the lifecycle position of an instance.
//
//	Spawning -> Running -> StoppingGraceful -> Stopped
//	                    -> StoppingGraceful -> ForceKilling -> Stopped
//	                    -> ForceKilling -> Stopped
//	                    -> ExitedUnexpectedly -> Stopped
type State string

const (
	StateSpawning           State = "spawning"
	StateRunning            State = "running"
	StateStoppingGraceful   State = "stopping"
	StateForceKilling       State = "killing"
	StateExitedUnexpectedly State = "exited"
	StateStopped            State = "stopped"
)

// allowedTransitions lists the legal next states for each state.
var allowedTransitions = map[State][]State{
	StateSpawning:           {StateRunning, StateStopped},
	StateRunning:            {StateStoppingGraceful, StateForceKilling, StateExitedUnexpectedly},
	StateStoppingGraceful:   {StateForceKilling, StateStopped},
	StateForceKilling:       {StateStopped},
	StateExitedUnexpectedly: {StateStopped},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the state still counts toward the per-type cap.
func (s State) Live() bool {
	return s != StateStopped
}

// StopReason records why an instance left the registry.
type StopReason string

const (
	ReasonStopped   StopReason = "stopped"
	ReasonKilled    StopReason = "killed"
	ReasonExited    StopReason = "exited"
	ReasonCancelled StopReason = "cancelled"
)
