// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/arke-messenger/arke/core/retry"
)

// DefaultDialTimeout bounds connection setup when ctx has no deadline.
const DefaultDialTimeout = 10 * time.Second

// HostPort accepts "tcp://host:port" or a bare "host:port".
func HostPort(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		return addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Scheme != "tcp" {
		return "", fmt.Errorf("wire: unsupported scheme %q", u.Scheme)
	}
	return u.Host, nil
}

// Call sends req to the server at addr and decodes the reply into resp.
// An error response is returned as a *RemoteError.
func Call(ctx context.Context, addr string, req Request, resp Response) error {
	hostPort, err := HostPort(addr)
	if err != nil {
		return err
	}
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return err
	}
	defer conn.Close()
	return Exchange(ctx, conn, req, resp)
}

// Exchange performs one request/response round trip on conn.
func Exchange(ctx context.Context, conn net.Conn, req Request, resp Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := WriteRequest(conn, req); err != nil {
		return contextErr(ctx, err)
	}
	b, err := ReadFrame(conn)
	if err != nil {
		return contextErr(ctx, err)
	}
	var st Status
	if err := unmarshal(looseHandle, b, &st); err != nil {
		return err
	}
	if st.Status != StatusSuccess {
		return &RemoteError{Action: req.Action(), Code: st.Code, Message: st.Message}
	}
	return unmarshal(looseHandle, b, resp)
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// IsTransient reports whether a Call failure may succeed when repeated.
// Error responses from the remote end never are.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return false
	}
	return retry.IsTransientError(err)
}

// CallWithRetry is Call repeated under p for transient failures.
func CallWithRetry(ctx context.Context, p retry.Policy, addr string, req Request, resp Response) error {
	p.Retryable = IsTransient
	return retry.Do(ctx, p, func(ctx context.Context) error {
		return Call(ctx, addr, req, resp)
	})
}
