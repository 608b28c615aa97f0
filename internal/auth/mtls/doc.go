// Package mtls authenticates requests by their client certificate.
//
// The certificate comes from the TLS connection or, when TLS terminates at
// the proxy, from a request header carrying the URL encoded PEM. It must be
// inside its validity window and be one of the certificates configured for
// the API, or be issued by one of them.
//
//	a := mtls.New(mtls.NewValidator(), mtls.WithCertificateHeader(cfg.Security.ClientCertificateHeader))
//	filter := auth.NewFilter(api, auth.WithAuthenticators(a))
package mtls
