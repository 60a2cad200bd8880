package pipeline

import "github.com/rotisserie/eris"

// ErrMissingPrerequisite means a stage was started without the durable
// output its predecessors were supposed to leave behind. Detect with
// errors.Is; the wrap names the stage and what it needed.
var ErrMissingPrerequisite = eris.New("missing prerequisite")
