package mailer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfplatform/eventfabric/pkg/config"
)

// plainSMTPServer speaks just enough SMTP to accept a session but rejects
// the STARTTLS command
func plainSMTPServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				fmt.Fprintf(conn, "220 test ESMTP\r\n")
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					switch {
					case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
						fmt.Fprintf(conn, "250-test\r\n250 OK\r\n")
					case strings.HasPrefix(line, "STARTTLS"):
						fmt.Fprintf(conn, "502 command not implemented\r\n")
					case strings.HasPrefix(line, "QUIT"):
						fmt.Fprintf(conn, "221 bye\r\n")
						return
					default:
						fmt.Fprintf(conn, "250 OK\r\n")
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestSMTPTransportRequiresStartTLS(t *testing.T) {
	port := plainSMTPServer(t)

	tr := NewSMTPTransport(config.MailerConfig{
		Host:     "127.0.0.1",
		Port:     port,
		StartTLS: true,
	})

	err := tr.Send(context.Background(), "noreply@example.com",
		[]string{"ops@example.com"}, []byte("Subject: x\r\n\r\nbody"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starttls")
}
