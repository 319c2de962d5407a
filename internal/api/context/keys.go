package apicontext

type contextKey string

// Params carries the httprouter path parameters through the middleware chain.
const Params contextKey = "params"
