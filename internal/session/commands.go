package session

import (
	"context"
	"slices"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
)

// CommandName identifies a session command.
type CommandName string

const (
	CmdEdit    CommandName = "edit"
	CmdRecall  CommandName = "recall"
	CmdUndo    CommandName = "undo"
	CmdPublish CommandName = "publish"
	CmdRefresh CommandName = "refresh"
)

// Request carries a command's arguments. Each command reads only the
// fields it needs.
type Request struct {
	Kind              string
	Inputs            []ir.FeatureID
	Params            ir.IRObject
	Target            depindex.Target
	Op                ir.OpID
	AcceptArityChange bool
}

// Response is what a command produced. At most one field is set.
type Response struct {
	Edit    *Result
	Undone  ir.OpID
	Publish *publish.Result
	Refresh *RefreshResult
}

// Handler runs one command against a session.
type Handler func(ctx context.Context, s *Session, req Request) (Response, error)

var commands = map[CommandName]Handler{
	CmdEdit: func(ctx context.Context, s *Session, req Request) (Response, error) {
		res, err := s.Do(ctx, Direct{Kind: req.Kind, Inputs: req.Inputs, Params: req.Params})
		if err != nil {
			return Response{}, err
		}
		return Response{Edit: &res}, nil
	},
	CmdRecall: func(ctx context.Context, s *Session, req Request) (Response, error) {
		res, err := s.Do(ctx, Recall{
			Target:            req.Target,
			Op:                req.Op,
			Params:            req.Params,
			Inputs:            req.Inputs,
			AcceptArityChange: req.AcceptArityChange,
		})
		if res.Recall == nil {
			return Response{}, err
		}
		return Response{Edit: &res}, err
	},
	CmdUndo: func(ctx context.Context, s *Session, _ Request) (Response, error) {
		id, err := s.Undo(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Undone: id}, nil
	},
	CmdPublish: func(ctx context.Context, s *Session, _ Request) (Response, error) {
		res, err := s.Publish(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Publish: &res}, nil
	},
	CmdRefresh: func(ctx context.Context, s *Session, _ Request) (Response, error) {
		res, err := s.Refresh(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Refresh: &res}, nil
	},
}

// Lookup returns the handler registered for name.
func Lookup(name CommandName) (Handler, error) {
	h, ok := commands[name]
	if !ok {
		return nil, ir.NewError(ir.ErrCodeNotFound, "unknown command %q", name)
	}
	return h, nil
}

// CommandNames lists the registered commands, sorted.
func CommandNames() []CommandName {
	names := make([]CommandName, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run looks up name and runs it against s.
func (s *Session) Run(ctx context.Context, name CommandName, req Request) (Response, error) {
	h, err := Lookup(name)
	if err != nil {
		return Response{}, err
	}
	return h(ctx, s, req)
}
