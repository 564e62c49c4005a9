package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_AcceptsNumbersAndStrings(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"post_type":"message","self_id":10001,"user_id":"wxid_abc","time":1}`), &ev)
	require.NoError(t, err)

	assert.Equal(t, ID("10001"), ev.SelfID)
	assert.Equal(t, ID("wxid_abc"), ev.UserID)
}

func TestID_NumericWrittenAsNumber(t *testing.T) {
	data, err := json.Marshal(struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}{A: "42", B: "u-42", C: "007"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":42,"b":"u-42","c":"007"}`, string(data))
}

func TestEvent_OptionalIdentitiesOmitted(t *testing.T) {
	data, err := json.Marshal(Event{PostType: PostMessage, MessageType: MessagePrivate, SelfID: "1", UserID: "2", Time: 5})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "group_id")
	assert.NotContains(t, raw, "channel_id")
	assert.Equal(t, float64(1), raw["self_id"])
}

func TestEvent_TextAndSubject(t *testing.T) {
	ev := Event{Message: "hi", UserID: "7"}
	assert.Equal(t, "hi", ev.Text())
	assert.Equal(t, "7", ev.Subject())

	ev = Event{Message: "[CQ:face]hi", RawMessage: "hi", Sender: &Sender{UserID: "8"}}
	assert.Equal(t, "hi", ev.Text())
	assert.Equal(t, "8", ev.Subject())
}

func TestHeartbeat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	hb := Heartbeat("10001", 5*time.Second, now)

	data, err := json.Marshal(hb)
	require.NoError(t, err)
	assert.JSONEq(t, `{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":10001,
		"status":{"online":true,"good":true},"interval":5000,"time":1700000000}`, string(data))
}

func TestLifecycle(t *testing.T) {
	ev := Lifecycle("bot", "wechat", LifecycleConnect, time.Unix(10, 0))
	assert.Equal(t, PostMetaEvent, ev.PostType)
	assert.Equal(t, MetaLifecycle, ev.MetaEventType)
	assert.Equal(t, LifecycleConnect, ev.SubType)
	assert.Equal(t, "wechat", ev.Platform)
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"post_type":"message","self_id":1,"raw_message":"start","time":1}`))
	require.NoError(t, err)
	require.NotNil(t, f.Event)
	assert.Equal(t, "start", f.Event.Text())

	f, err = DecodeFrame([]byte(`{"action":"send_msg","params":{"message":"x"},"echo":{"seq":1}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Request)
	assert.Equal(t, "send_msg", f.Request.Action)
	assert.JSONEq(t, `{"seq":1}`, string(f.Request.Echo))

	f, err = DecodeFrame([]byte(`{"status":"ok","retcode":0,"data":null,"echo":"abc"}`))
	require.NoError(t, err)
	require.NotNil(t, f.Response)
	assert.True(t, f.Response.OK())

	_, err = DecodeFrame([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestSendMessage_TargetsConversation(t *testing.T) {
	group := SendMessage(Event{SelfID: "1", MessageType: MessageGroup, GroupID: "99", UserID: "2"}, "hi")
	assert.Equal(t, ID("1"), group.SelfID)
	assert.Equal(t, ID("99"), group.Params["group_id"])
	assert.NotContains(t, group.Params, "user_id")

	private := SendMessage(Event{SelfID: "1", MessageType: MessagePrivate, UserID: "2"}, "hi")
	assert.Equal(t, ID("2"), private.Params["user_id"])
}

func TestFailed(t *testing.T) {
	resp := Failed(RetcodeNoTarget, "no adapter", json.RawMessage(`"e1"`))
	assert.False(t, resp.OK())
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, `"e1"`, string(resp.Echo))
}
