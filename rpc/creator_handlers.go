package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	chainstate "spacegate/core/state"
	"spacegate/core/types"
	"spacegate/native/creator"
)

// Every query takes its positional arguments followed by an optional state
// root. Without a root the head state is read.

func parseObjectIDParam(raw json.RawMessage, name string) (types.ObjectID, *RPCError) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return types.ObjectID{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must be a string", name)}
	}
	id, err := types.ParseObjectID(value)
	if err != nil {
		return types.ObjectID{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s", name), Data: err.Error()}
	}
	return id, nil
}

func parsePrincipalParam(raw json.RawMessage, name string) (types.Principal, *RPCError) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return types.Principal{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must be a string", name)}
	}
	addr, err := types.ParsePrincipal(value)
	if err != nil {
		return types.Principal{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s", name), Data: err.Error()}
	}
	return addr, nil
}

func parseRootParam(raw json.RawMessage) (common.Hash, *RPCError) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return common.Hash{}, &RPCError{Code: codeInvalidParams, Message: "root must be a string"}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Hash{}, nil
	}
	trimmed := strings.TrimPrefix(value, "0x")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, &RPCError{Code: codeInvalidParams, Message: "root must be 32 bytes of hex"}
	}
	return common.HexToHash(value), nil
}

// queryState checks arity and opens the requested state view.
func (s *Server) queryState(req *RPCRequest, argc int) (*chainstate.Manager, *RPCError) {
	if len(req.Params) < argc || len(req.Params) > argc+1 {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("expected %d parameters and an optional root", argc)}
	}
	var root common.Hash
	if len(req.Params) == argc+1 {
		parsed, rpcErr := parseRootParam(req.Params[argc])
		if rpcErr != nil {
			return nil, rpcErr
		}
		root = parsed
	}
	view, err := s.chain.StateAt(root)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unknown state root", Data: err.Error()}
	}
	return view, nil
}

func writeRPCError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := http.StatusBadRequest
	if rpcErr.Code == codeServerError {
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func serverError(err error) *RPCError {
	return &RPCError{Code: codeServerError, Message: "state read failed", Data: err.Error()}
}

// writeLookup writes value, or null when the record does not exist.
func writeLookup(w http.ResponseWriter, id interface{}, value interface{}, ok bool, err error) {
	if err != nil {
		writeRPCError(w, id, serverError(err))
		return
	}
	if !ok {
		writeResult(w, id, nil)
		return
	}
	writeResult(w, id, value)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parsePrincipalParam(req.Params[0], "address")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	account, err := view.GetAccount(addr)
	if err != nil {
		writeRPCError(w, req.ID, serverError(err))
		return
	}
	writeResult(w, req.ID, AccountResult{Address: addr, Nonce: account.Nonce, Balance: account.Balance})
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, rpcErr := parseObjectIDParam(req.Params[0], "identity id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	identity, ok, err := view.IdentityGet(id)
	writeLookup(w, req.ID, identity, ok, err)
}

func (s *Server) handleGetIdentityIndex(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	owner, rpcErr := parsePrincipalParam(req.Params[0], "owner")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, ok, err := view.IdentityIndexGet(owner)
	writeLookup(w, req.ID, id, ok, err)
}

func (s *Server) handleGetSpace(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, rpcErr := parseObjectIDParam(req.Params[0], "space id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	space, ok, err := view.SpaceGet(id)
	writeLookup(w, req.ID, space, ok, err)
}

func (s *Server) handleListSpaces(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 0)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	ids, err := view.SpaceList()
	if err != nil {
		writeRPCError(w, req.ID, serverError(err))
		return
	}
	if ids == nil {
		ids = []types.ObjectID{}
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleGetOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, rpcErr := parseObjectIDParam(req.Params[0], "ownership id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	ownership, ok, err := view.OwnershipGet(id)
	writeLookup(w, req.ID, ownership, ok, err)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, rpcErr := parseObjectIDParam(req.Params[0], "subscription id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	sub, ok, err := view.SubscriptionGet(id)
	writeLookup(w, req.ID, sub, ok, err)
}

func (s *Server) handleGetSubscriptionIndex(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 2)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	spaceID, rpcErr := parseObjectIDParam(req.Params[0], "space id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	subscriber, rpcErr := parsePrincipalParam(req.Params[1], "subscriber")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	id, ok, err := view.SubscriptionIndexGet(spaceID, subscriber)
	writeLookup(w, req.ID, id, ok, err)
}

func (s *Server) handleGetSubscribers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 1)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	spaceID, rpcErr := parseObjectIDParam(req.Params[0], "space id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	subscribers, err := view.SpaceSubscribers(spaceID)
	if err != nil {
		writeRPCError(w, req.ID, serverError(err))
		return
	}
	if subscribers == nil {
		subscribers = []types.Principal{}
	}
	writeResult(w, req.ID, subscribers)
}

func (s *Server) handleIsSubscribed(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 2)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	subscriber, rpcErr := parsePrincipalParam(req.Params[0], "subscriber")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	spaceID, rpcErr := parseObjectIDParam(req.Params[1], "space id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	subscribed, err := creator.IsSubscribed(view, subscriber, spaceID)
	if err != nil {
		writeRPCError(w, req.ID, serverError(err))
		return
	}
	writeResult(w, req.ID, subscribed)
}

func (s *Server) handleGetFan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 2)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	spaceID, rpcErr := parseObjectIDParam(req.Params[0], "space id")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	fan, rpcErr := parsePrincipalParam(req.Params[1], "fan")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	record, ok, err := view.FanGet(spaceID, fan)
	writeLookup(w, req.ID, record, ok, err)
}

func (s *Server) handleGetTotals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, rpcErr := s.queryState(req, 0)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	totals, err := view.CreatorTotals()
	if err != nil {
		writeRPCError(w, req.ID, serverError(err))
		return
	}
	writeResult(w, req.ID, totals)
}
