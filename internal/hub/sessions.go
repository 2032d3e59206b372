package hub

import "github.com/osobh/pingpong-sub001/internal/room"

// session is a connection's current membership.
type session struct {
	roomID   string
	memberID string
}

// sessions maps connections to memberships and back, so a disconnect never
// has to scan room members.
type sessions struct {
	byConn   map[room.Conn]session
	byMember map[session]room.Conn
}

func newSessions() *sessions {
	return &sessions{
		byConn:   make(map[room.Conn]session),
		byMember: make(map[session]room.Conn),
	}
}

func (s *sessions) bind(conn room.Conn, roomID, memberID string) {
	sess := session{roomID: roomID, memberID: memberID}
	s.byConn[conn] = sess
	s.byMember[sess] = conn
}

func (s *sessions) lookup(conn room.Conn) (session, bool) {
	sess, ok := s.byConn[conn]
	return sess, ok
}

func (s *sessions) conn(roomID, memberID string) (room.Conn, bool) {
	c, ok := s.byMember[session{roomID: roomID, memberID: memberID}]
	return c, ok
}

func (s *sessions) unbind(conn room.Conn) (session, bool) {
	sess, ok := s.byConn[conn]
	if !ok {
		return session{}, false
	}
	delete(s.byConn, conn)
	delete(s.byMember, sess)
	return sess, true
}

// dropRoom forgets every session in roomID.
func (s *sessions) dropRoom(roomID string) {
	for conn, sess := range s.byConn {
		if sess.roomID == roomID {
			delete(s.byConn, conn)
			delete(s.byMember, sess)
		}
	}
}

func (s *sessions) len() int {
	return len(s.byConn)
}
