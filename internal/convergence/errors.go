package convergence

import "errors"

// errNoSource marks an agent with no configured signal source.
var errNoSource = errors.New("no signal source configured")
