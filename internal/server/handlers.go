package server

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ChatStream/internal/chatbot"
	"ChatStream/internal/rpc"
	"ChatStream/internal/store"
)

func invalidParams(err error) *rpc.Error {
	return &rpc.Error{Code: rpc.CodeInvalidParams, Message: "invalid params: " + err.Error()}
}

func decode(params json.RawMessage, v any) *rpc.Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

// toRPCError maps domain errors to JSON-RPC error codes
func toRPCError(err error) *rpc.Error {
	code := rpc.CodeInternalError
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrMessageNotFound):
		code = rpc.CodeNotFound
	case errors.Is(err, store.ErrSessionBusy):
		code = rpc.CodeBusy
	case errors.Is(err, chatbot.ErrEmptyPrompt), errors.Is(err, store.ErrEmptyContent):
		code = rpc.CodeEmptyPrompt
	case errors.Is(err, chatbot.ErrNoActiveSession):
		code = rpc.CodeNoActiveSession
	case errors.Is(err, store.ErrNotAssistantMessage), errors.Is(err, store.ErrNoPrecedingUserMessage):
		code = rpc.CodeInvalidTarget
	}
	return &rpc.Error{Code: code, Message: err.Error()}
}

// handle runs one request and builds its response
func (s *Server) handle(ctx context.Context, req rpc.Request) rpc.Response {
	ctx, span := s.tracer.Start(ctx, "rpc."+req.Method, trace.WithAttributes(
		attribute.Int64("rpc.id", req.ID),
	))
	defer span.End()

	if s.requests != nil {
		s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("method", req.Method)))
	}

	result, rpcErr := s.dispatch(ctx, req)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		s.logger.Debug("rpc request failed", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		return rpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}

	resp, err := rpc.NewResponse(req.ID, result)
	if err != nil {
		s.logger.Error("failed to encode result", "method", req.Method, "error", err)
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError, "failed to encode result")
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req rpc.Request) (any, *rpc.Error) {
	switch req.Method {
	case rpc.MethodSessionCreate:
		return rpc.SessionResult{Session: s.cb.NewSession(ctx)}, nil

	case rpc.MethodSessionSelect:
		var p rpc.SessionParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.cb.SelectSession(p.ID); err != nil {
			return nil, toRPCError(err)
		}
		return rpc.OKResult{OK: true}, nil

	case rpc.MethodSessionDelete:
		var p rpc.SessionParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.cb.DeleteSession(ctx, p.ID); err != nil {
			return nil, toRPCError(err)
		}
		return rpc.OKResult{OK: true}, nil

	case rpc.MethodSessionClear:
		s.cb.ClearAll(ctx)
		return rpc.OKResult{OK: true}, nil

	case rpc.MethodSessionList:
		return s.cb.Snapshot(), nil

	case rpc.MethodPromptSubmit:
		var p rpc.PromptParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		g, err := s.cb.StartPrompt(s.base, p.Text, nil)
		if err != nil {
			return nil, toRPCError(err)
		}
		return rpc.AcceptedResult{SessionID: g.SessionID, ResponseID: g.ResponseID, Prompt: g.Prompt}, nil

	case rpc.MethodMessageRegenerate:
		var p rpc.RegenerateParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		g, err := s.cb.StartRegenerate(s.base, p.MessageID, nil)
		if err != nil {
			return nil, toRPCError(err)
		}
		return rpc.AcceptedResult{SessionID: g.SessionID, ResponseID: g.ResponseID, Prompt: g.Prompt}, nil

	case rpc.MethodGenerationStop:
		var p rpc.StopParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		id := p.SessionID
		if id == "" {
			id = s.cb.Snapshot().ActiveID
		}
		return rpc.StoppedResult{Stopped: s.cb.Stop(id)}, nil

	case rpc.MethodSearchPeople:
		var p rpc.SearchParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		people, err := s.cb.People(ctx, p.Query)
		if err != nil {
			return nil, toRPCError(err)
		}
		return rpc.PeopleResult{Results: people}, nil

	case rpc.MethodSearchSuggestions:
		var p rpc.SearchParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		results, err := s.cb.Suggestions(ctx, p.Query)
		if err != nil {
			return nil, toRPCError(err)
		}
		return rpc.SuggestionsResult{Results: results}, nil
	}

	return nil, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "method not found: " + req.Method}
}
