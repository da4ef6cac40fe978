// Package oauth is an OAuth 2.1 authorization server core. It issues and
// validates opaque bearer tokens, brokers an external identity provider's
// tokens into locally issued ones (RFC 8693 token exchange), and manages
// dynamic client registration (RFC 7591).
//
// The HTTP surface lives here: authorization, token, registration, browser
// login/callback, and the RFC 8414 metadata document. The protocol state
// machine lives in the server package, persistence behind the storage
// interfaces (in-memory and Redis backends included), and identity provider
// integrations in the providers tree.
//
// Minimal setup:
//
//	store := memory.New()
//	provider, _ := x.NewProvider(&x.Config{ClientID: id, ClientSecret: secret, RedirectURL: cb})
//	handler, err := oauth.New(&oauth.Config{
//		Issuer:   "https://auth.example.com",
//		Store:    store,
//		Provider: provider,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", handler.Routes())
package oauth
