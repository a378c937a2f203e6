package presence

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqerk/academy-live-hub/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
}

func TestSendToStudentWithNoSessionsIsNoOp(t *testing.T) {
	d := NewDispatcher(NewRegistry(), testLogger())

	assert.NotPanics(t, func() {
		d.SendToStudent(42, map[string]any{"type": "ping"})
	})
}

func TestSendToStudentDeliversToAllTabs(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	r.AddStudent(42, NewStudentSession(42, 100, c1))
	r.AddStudent(42, NewStudentSession(42, 100, c2))

	d.SendToStudent(42, map[string]any{"type": "ping"})

	f1 := c1.sentFrames()
	f2 := c2.sentFrames()
	require.Len(t, f1, 1)
	require.Len(t, f2, 1)
	// The payload is serialized once and both tabs get the same bytes.
	assert.JSONEq(t, `{"type":"ping"}`, string(f1[0]))
	assert.Equal(t, f1[0], f2[0])
}

func TestSendFailureDoesNotAbortSiblingDelivery(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	broken := &fakeConn{failWrites: true}
	healthy := &fakeConn{}
	r.AddStudent(42, NewStudentSession(42, 100, broken))
	r.AddStudent(42, NewStudentSession(42, 100, healthy))

	d.SendToStudent(42, map[string]any{"type": "ping"})

	assert.Len(t, healthy.sentFrames(), 1)
}

func TestSendToStaffRoleFilters(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	advisorConn := &fakeConn{}
	adminConn := &fakeConn{}
	r.AddStaff(NewStaffSession(7, StaffAdvisor, advisorConn))
	r.AddStaff(NewStaffSession(8, StaffAdmin, adminConn))

	d.SendToStaffRole(StaffAdvisor, map[string]any{"type": "chat-message"})

	assert.Len(t, advisorConn.sentFrames(), 1)
	assert.Empty(t, adminConn.sentFrames())
}

func TestSendToStaffUserFilters(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	target := &fakeConn{}
	sameUserOtherRole := &fakeConn{}
	otherUser := &fakeConn{}
	r.AddStaff(NewStaffSession(7, StaffAdvisor, target))
	r.AddStaff(NewStaffSession(7, StaffAdmin, sameUserOtherRole))
	r.AddStaff(NewStaffSession(9, StaffAdvisor, otherUser))

	d.SendToStaffUser(7, StaffAdvisor, map[string]any{"type": "reminder"})

	assert.Len(t, target.sentFrames(), 1)
	assert.Empty(t, sameUserOtherRole.sentFrames())
	assert.Empty(t, otherUser.sentFrames())

	// Without a role filter both of user 7's sessions receive it.
	d.SendToStaffUser(7, "", map[string]any{"type": "reminder"})
	assert.Len(t, target.sentFrames(), 2)
	assert.Len(t, sameUserOtherRole.sentFrames(), 1)
	assert.Empty(t, otherUser.sentFrames())
}

func TestSendToStaffUserZeroIDIsNoOp(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	c := &fakeConn{}
	r.AddStaff(NewStaffSession(7, StaffAdvisor, c))

	d.SendToStaffUser(0, "", map[string]any{"type": "reminder"})
	assert.Empty(t, c.sentFrames())
}

func TestSendToAllStaffIgnoresSubRole(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	advisorConn := &fakeConn{}
	adminConn := &fakeConn{}
	r.AddStaff(NewStaffSession(7, StaffAdvisor, advisorConn))
	r.AddStaff(NewStaffSession(8, StaffAdmin, adminConn))

	d.SendToAllStaff(map[string]any{"type": "payment-approved"})

	assert.Len(t, advisorConn.sentFrames(), 1)
	assert.Len(t, adminConn.sentFrames(), 1)
}

func TestBroadcastToAllStudentsReachesEverySession(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	conns := []*fakeConn{{}, {}, {}}
	r.AddStudent(1, NewStudentSession(1, 10, conns[0]))
	r.AddStudent(1, NewStudentSession(1, 10, conns[1]))
	r.AddStudent(2, NewStudentSession(2, 11, conns[2]))

	d.BroadcastToAllStudents(map[string]any{"type": "advisor-status-change", "online": true})

	for i, c := range conns {
		assert.Len(t, c.sentFrames(), 1, "conn %d", i)
	}
}

func TestUnserializablePayloadIsDroppedQuietly(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, testLogger())

	c := &fakeConn{}
	r.AddStudent(42, NewStudentSession(42, 100, c))

	assert.NotPanics(t, func() {
		d.SendToStudent(42, make(chan int))
	})
	assert.Empty(t, c.sentFrames())
}
