/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SaslClient is the mechanism side of the SASL exchange. The handshake
// driver calls Start once, then feeds every server challenge to
// EvaluateChallenge and sends the returned token, until Completed reports
// true. A mechanism with HasLastPacket sends one final token after
// completion.
type SaslClient interface {
	// Start prepares the mechanism for the given local and remote
	// addresses and returns the initial token, which may be empty.
	Start(localAddr, remoteAddr string) ([]byte, error)
	// EvaluateChallenge consumes a server challenge and produces the next
	// token.
	EvaluateChallenge(challenge []byte) ([]byte, error)
	// Completed reports whether the exchange has finished.
	Completed() bool
	// HasLastPacket reports whether one final token must be sent after
	// completion.
	HasLastPacket() bool
}

// DigestMD5Client implements the DIGEST-MD5 mechanism (RFC 2831) as used by
// ZooKeeper's SASL quorum auth: a single challenge/response round followed
// by the server's rspauth.
type DigestMD5Client struct {
	User     string
	Password string

	// Service is the digest-uri service name; ZooKeeper servers expect
	// "zookeeper".
	Service string

	host      string
	completed bool
}

// Start records the remote host for the digest-uri and returns an empty
// initial token; DIGEST-MD5 is server-first.
func (d *DigestMD5Client) Start(localAddr, remoteAddr string) ([]byte, error) {
	host := remoteAddr
	if i := strings.LastIndex(remoteAddr, ":"); i >= 0 {
		host = remoteAddr[:i]
	}
	d.host = host
	d.completed = false
	return nil, nil
}

// EvaluateChallenge answers the server's digest-challenge, or consumes the
// final rspauth and completes.
func (d *DigestMD5Client) EvaluateChallenge(challenge []byte) ([]byte, error) {
	props, err := parseDigestChallenge(string(challenge))
	if err != nil {
		return nil, err
	}
	if _, ok := props["rspauth"]; ok {
		d.completed = true
		return nil, nil
	}

	nonce, ok := props["nonce"]
	if !ok {
		return nil, fmt.Errorf("%w: digest challenge carries no nonce", ErrAuthFailed)
	}
	realm := props["realm"]
	qop := props["qop"]
	if qop == "" {
		qop = "auth"
	}

	var cnonceRaw [16]byte
	if _, err := rand.Read(cnonceRaw[:]); err != nil {
		return nil, err
	}
	cnonce := hex.EncodeToString(cnonceRaw[:])
	nc := "00000001"
	service := d.Service
	if service == "" {
		service = "zookeeper"
	}
	digestURI := service + "/" + d.host

	response := digestMD5Response(d.User, realm, d.Password, nonce, cnonce, nc, qop, digestURI)

	var b strings.Builder
	fmt.Fprintf(&b, `username="%s",realm="%s",nonce="%s",cnonce="%s",nc=%s,qop=%s,digest-uri="%s",response=%s,charset=utf-8`,
		d.User, realm, nonce, cnonce, nc, qop, digestURI, response)
	return []byte(b.String()), nil
}

// Completed reports whether the server's rspauth has been consumed.
func (d *DigestMD5Client) Completed() bool {
	return d.completed
}

// HasLastPacket is false for DIGEST-MD5: the exchange ends on the server's
// rspauth.
func (d *DigestMD5Client) HasLastPacket() bool {
	return false
}

// digestMD5Response computes the RFC 2831 response value.
func digestMD5Response(user, realm, password, nonce, cnonce, nc, qop, digestURI string) string {
	h := func(s string) []byte {
		sum := md5.Sum([]byte(s))
		return sum[:]
	}
	hexH := func(b []byte) string {
		return hex.EncodeToString(b)
	}

	// A1 = H(user:realm:password) : nonce : cnonce
	a1 := append(h(user+":"+realm+":"+password), []byte(":"+nonce+":"+cnonce)...)
	a2 := "AUTHENTICATE:" + digestURI

	kd := hexH(h(string(a1))) + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + hexH(h(a2))
	return hexH(h(kd))
}

// parseDigestChallenge splits `k1="v1",k2=v2,...` into a map, unquoting
// values.
func parseDigestChallenge(challenge string) (map[string]string, error) {
	props := make(map[string]string)
	for _, part := range splitChallenge(challenge) {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed digest challenge %q", ErrAuthFailed, challenge)
		}
		v = strings.TrimSpace(v)
		v = strings.TrimPrefix(v, `"`)
		v = strings.TrimSuffix(v, `"`)
		props[strings.TrimSpace(k)] = v
	}
	return props, nil
}

// splitChallenge splits on commas that are not inside a quoted value.
func splitChallenge(challenge string) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	for _, r := range challenge {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
