package es

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Command is implemented by every domain command. The name is the tag used
// by external callers submitting {command_name, parameter_map} unions.
type Command interface {
	CommandName() string
}

// CommandRegistry maps command names to constructors so that callers from
// other contexts (chat, tool, admin) can submit commands by name and have
// them decoded into typed values at the domain boundary.
type CommandRegistry struct {
	mu    sync.RWMutex
	ctors map[string]func() Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{ctors: map[string]func() Command{}}
}

type CommandRegistrar interface {
	Register(ctors ...func() Command)
}

func (r *CommandRegistry) Register(ctors ...func() Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctor := range ctors {
		r.ctors[ctor().CommandName()] = ctor
	}
}

// Decode builds the typed command registered under name from its parameter
// map. Returns ErrUnknownCommand for names never registered.
func (r *CommandRegistry) Decode(name string, params json.RawMessage) (Command, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	cmd := ctor()
	if len(params) > 0 {
		if err := json.Unmarshal(params, cmd); err != nil {
			return nil, fmt.Errorf("failed to decode %s command: %w", name, err)
		}
	}
	return cmd, nil
}

// CommandOf returns a constructor for commands of type T.
func CommandOf[T any, PT interface {
	*T
	Command
}]() func() Command {
	return func() Command { return PT(new(T)) }
}
