// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, role)
//	httputil.WriteErrorCode(w, r, http.StatusConflict, "duplicate_name", err.Error())
//
// Error bodies share one shape:
//
//	{"error": "role name already exists", "code": "duplicate_name", "request_id": "..."}
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestID,
//		httputil.Logging(logger),
//		httputil.Recovery(logger),
//	)(router)
package httputil
