// Package auth obtains Haystack bearer tokens using the HELLO, SCRAM and
// PLAINTEXT handshakes against a server's about endpoint.
package auth

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/c360studio/haystack/transport"
)

// gs2Header is the SCRAM channel-binding prefix sent with client-first.
const gs2Header = "m,,"

const nonceLength = 24

// Credentials identify the user. Either field empty means anonymous.
type Credentials struct {
	Username string
	Password string
}

// Anonymous reports whether no handshake should be attempted.
func (c Credentials) Anonymous() bool {
	return c.Username == "" || c.Password == ""
}

// Authenticator runs handshakes over a Transport.
type Authenticator struct {
	transport transport.Transport
	logger    *slog.Logger
	nonce     func() string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNonce replaces the client nonce generator.
func WithNonce(fn func() string) Option {
	return func(a *Authenticator) {
		a.nonce = fn
	}
}

// New creates an Authenticator.
func New(t transport.Transport, opts ...Option) *Authenticator {
	a := &Authenticator{
		transport: t,
		logger:    slog.Default(),
		nonce:     func() string { return Nonce(nonceLength) },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Token authenticates against uri and returns the bearer token. The bool
// result is false, with no error, when creds are anonymous and no
// handshake was attempted.
func (a *Authenticator) Token(ctx context.Context, uri string, creds Credentials) (string, bool, error) {
	if creds.Anonymous() {
		a.logger.Debug("No credentials, using anonymous session", "uri", uri)
		return "", false, nil
	}

	res, err := a.send(ctx, uri, "HELLO username="+Base64URL([]byte(creds.Username)))
	if err != nil {
		return "", false, err
	}
	if res.StatusCode != http.StatusUnauthorized {
		return "", false, NewAuthError("failed to announce user: %d %s", res.StatusCode, res.Status)
	}
	header, err := requireHeader(res, "WWW-Authenticate")
	if err != nil {
		return "", false, err
	}

	methods := ParseMethods(header)
	var token string
	switch {
	case methods["scram"] != nil:
		a.logger.Debug("Using SCRAM authentication", "uri", uri, "user", creds.Username)
		token, err = a.scram(ctx, uri, creds, methods["scram"])
	case methods["plaintext"] != nil:
		a.logger.Debug("Using PLAINTEXT authentication", "uri", uri, "user", creds.Username)
		token, err = a.plaintext(ctx, uri, creds)
	default:
		return "", false, NewProtocolError("unsupported auth method: %s",
			strings.Join(slices.Sorted(maps.Keys(methods)), ", "))
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (a *Authenticator) plaintext(ctx context.Context, uri string, creds Credentials) (string, error) {
	res, err := a.send(ctx, uri, "PLAINTEXT username="+Base64URL([]byte(creds.Username))+
		", password="+Base64URL([]byte(creds.Password)))
	if err != nil {
		return "", err
	}
	return authToken(res)
}

func (a *Authenticator) scram(ctx context.Context, uri string, creds Credentials, hello map[string]string) (string, error) {
	if name, ok := hello["hash"]; ok {
		if _, err := ParseAlgorithm(name); err != nil {
			return "", err
		}
	}

	nonce := a.nonce()
	bare := "n=" + creds.Username + ",r=" + nonce
	res, err := a.send(ctx, uri, "SCRAM data="+Base64URL([]byte(gs2Header+bare))+handshake(hello))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusUnauthorized {
		return "", NewAuthError("failed client first message: %d %s", res.StatusCode, res.Status)
	}
	header, err := requireHeader(res, "WWW-Authenticate")
	if err != nil {
		return "", err
	}
	first := ParseMethods(header)["scram"]
	if first == nil {
		return "", NewAuthError("server did not continue the SCRAM exchange")
	}

	hashName := first["hash"]
	if hashName == "" {
		hashName = hello["hash"]
	}
	alg, err := ParseAlgorithm(hashName)
	if err != nil {
		return "", err
	}
	final, err := clientFinal(alg, creds, nonce, bare, first["data"])
	if err != nil {
		return "", err
	}

	res, err = a.send(ctx, uri, "SCRAM data="+Base64URL([]byte(final))+handshake(first))
	if err != nil {
		return "", err
	}
	return authToken(res)
}

// clientFinal computes the client-final message from the server-first
// message carried in data.
func clientFinal(alg Algorithm, creds Credentials, nonce, bare, data string) (string, error) {
	decoded, err := DecodeBase64(data)
	if err != nil {
		return "", NewAuthError("invalid server first message: %v", err)
	}
	serverFirst := string(decoded)
	params := ParseParams(serverFirst)

	serverNonce := params["r"]
	if !strings.HasPrefix(serverNonce, nonce) {
		return "", NewAuthError("server nonce does not extend client nonce")
	}
	salt, err := DecodeBase64(params["s"])
	if err != nil {
		return "", NewAuthError("invalid salt: %v", err)
	}
	iter, err := strconv.Atoi(params["i"])
	if err != nil || iter <= 0 {
		return "", NewAuthError("invalid iteration count: %q", params["i"])
	}

	noProof := "c=" + Base64URL([]byte(gs2Header)) + ",r=" + serverNonce
	authMessage := bare + "," + serverFirst + "," + noProof

	salted := PBKDF2(alg, []byte(creds.Password), salt, iter, alg.Size())
	clientKey := HMAC(alg, salted, []byte("Client Key"))
	storedKey := Hash(alg, clientKey)
	signature := HMAC(alg, storedKey, []byte(authMessage))
	proof, err := XOR(clientKey, signature)
	if err != nil {
		return "", err
	}
	return noProof + ",p=" + Base64(proof), nil
}

func handshake(params map[string]string) string {
	if tok, ok := params["handshakeToken"]; ok {
		return ", handshakeToken=" + tok
	}
	return ""
}

func (a *Authenticator) send(ctx context.Context, uri, authorization string) (*transport.Response, error) {
	header := http.Header{}
	header.Set("Authorization", authorization)
	return a.transport.Send(ctx, http.MethodGet, strings.TrimSuffix(uri, "/")+"/about/", header, "")
}

func requireHeader(res *transport.Response, name string) (string, error) {
	values := res.Header.Values(name)
	if len(values) == 0 {
		return "", NewAuthError("missing response header: %s", name)
	}
	return strings.Join(values, ";"), nil
}

func authToken(res *transport.Response) (string, error) {
	if res.StatusCode != http.StatusOK {
		return "", NewAuthError("failed to authenticate: %d %s", res.StatusCode, res.Status)
	}
	header, err := requireHeader(res, "Authentication-Info")
	if err != nil {
		return "", err
	}
	token := ParseParams(header)["authToken"]
	if token == "" {
		return "", NewAuthError("failed to receive token")
	}
	return token, nil
}
