package auth

// ScopeOAuthState marks tokens minted as the OAuth state parameter. Bearer
// tokens from the identity service never carry it.
const ScopeOAuthState = "oauth:state"
