package board

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestDecodeCommandKnownActions(t *testing.T) {
	is := is.New(t)

	cmd, err := DecodeCommand([]byte(`{"action":"task.assign","taskId":"t1","memberId":"m1"}`))
	is.NoErr(err)
	assign, ok := cmd.(AssignTask)
	is.True(ok)
	is.Equal(assign.TaskID, "t1")
	is.Equal(*assign.MemberID, "m1")

	cmd, err = DecodeCommand([]byte(`{"action":"task.assign","taskId":"t1","memberId":null}`))
	is.NoErr(err)
	is.True(cmd.(AssignTask).MemberID == nil)

	cmd, err = DecodeCommand([]byte(`{"action":"period.ensure","startDate":"2026-02-09","endDate":"2026-02-15","label":"2026-02-09 ~ 2026-02-15"}`))
	is.NoErr(err)
	is.Equal(cmd.(EnsurePeriod).StartDate, "2026-02-09")

	cmd, err = DecodeCommand([]byte(`{"action":"reorder.tasks","orders":[{"id":"a","order":100},{"id":"b","order":200}]}`))
	is.NoErr(err)
	is.Equal(len(cmd.(ReorderTasks).Orders), 2)

	cmd, err = DecodeCommand([]byte(`{"action":"member.update","memberId":"m1","patch":{"availabilityByDay":{"mon":60}}}`))
	is.NoErr(err)
	is.Equal(cmd.(UpdateMember).Patch.AvailabilityByDay[Mon], Minutes(60))
}

func TestDecodeCommandUnknownAction(t *testing.T) {
	is := is.New(t)

	_, err := DecodeCommand([]byte(`{"action":"task.explode"}`))
	is.True(errors.Is(err, ErrUnknownAction))

	var unknown *UnknownActionError
	is.True(errors.As(err, &unknown))
	is.Equal(unknown.Action, "task.explode")

	_, err = DecodeCommand([]byte(`{}`))
	is.True(errors.Is(err, ErrUnknownAction))
}

func TestDecodeCommandRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"action":`, ErrMalformedCommand},
		{"wrong type", `{"action":"task.delete","taskId":5}`, ErrMalformedCommand},
		{"missing task id", `{"action":"task.delete"}`, ErrInvalidCommand},
		{"missing nested id", `{"action":"task.create","task":{"title":"x"}}`, ErrInvalidCommand},
		{"bad date", `{"action":"period.ensure","startDate":"2026-2-9","endDate":"2026-02-15"}`, ErrInvalidCommand},
		{"order without id", `{"action":"reorder.members","orders":[{"order":100}]}`, ErrInvalidCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEncodeCommandIsFlat(t *testing.T) {
	is := is.New(t)

	body, err := EncodeCommand(DeleteMember{MemberID: "m2"})
	is.NoErr(err)

	var fields map[string]any
	is.NoErr(json.Unmarshal(body, &fields))
	is.Equal(fields["action"], "member.delete")
	is.Equal(fields["memberId"], "m2")

	decoded, err := DecodeCommand(body)
	is.NoErr(err)
	is.Equal(decoded, Command(DeleteMember{MemberID: "m2"}))
}

func TestTaskPatchApply(t *testing.T) {
	is := is.New(t)

	minutes := Minutes(45)
	task := Task{ID: "t1", Title: "old", Minutes: 30, AssignedTo: StringPtr("m1")}
	patched := TaskPatch{Title: StringPtr("new"), Minutes: &minutes}.Apply(task)

	is.Equal(patched.Title, "new")
	is.Equal(patched.Minutes, Minutes(45))
	is.Equal(*patched.AssignedTo, "m1")
}

func TestMemberPatchMergesAvailabilityPerDay(t *testing.T) {
	is := is.New(t)

	member := Member{ID: "m1", Name: "Kim", AvailabilityByDay: UniformWeekdays(240)}
	patched := MemberPatch{AvailabilityByDay: Availability{Mon: 60, "holiday": 10}}.Apply(member)

	is.Equal(patched.AvailabilityByDay[Mon], Minutes(60))
	is.Equal(patched.AvailabilityByDay[Tue], Minutes(240))
	_, unknown := patched.AvailabilityByDay["holiday"]
	is.True(!unknown)
	is.Equal(member.AvailabilityByDay[Mon], Minutes(240))
	is.Equal(patched.Name, "Kim")
}
