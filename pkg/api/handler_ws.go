package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades /ws/session/:id and attaches the connection to the
// session's event bus. Blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The engine binds to localhost for a single local client;
		// cross-origin pages are not part of the deployment.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(c.Request().Context(), conn, sess.ID, sess.Bus)
	return nil
}
