// Package application contains the request pipeline: cache check, the
// three budget checks, cooldown gates, the upstream fetch plan and the
// derived score computation.
//
// It depends only on the domain package and does not know net/http.
// Service methods return a domain.Result; mapping that to a wire status is
// the transport's problem.
package application
