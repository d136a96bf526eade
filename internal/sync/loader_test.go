package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feiramob/chatcore/internal/rest"
	"github.com/feiramob/chatcore/internal/store"
	"go.uber.org/zap"
)

func snapshotServer(t *testing.T, body string, code int) *Loader {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewLoader(rest.NewClient(srv.URL, rest.StaticToken("t")), zap.NewNop())
}

func TestFetchNormalizesPortugueseFieldNames(t *testing.T) {
	body := `[{
		"user_id": 2,
		"nome": "Beatriz",
		"username": "bia",
		"foto": "https://cdn/bia.png",
		"online": true,
		"total_news_msgs": 2,
		"mensagens": [
			{"id": "m1", "sender_id": 2, "content": "oi", "message_type": "text", "is_read": false, "created_at": "2026-08-29T10:00:00Z"},
			{"id": "m2", "sender_id": 1, "content": "tudo bem?", "message_type": "text", "is_read": true, "created_at": "2026-08-29T10:01:00Z"}
		]
	}]`
	loader := snapshotServer(t, body, http.StatusOK)

	convos, err := loader.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convos) != 1 {
		t.Fatalf("convos = %d, want 1", len(convos))
	}
	c := convos[0]
	if c.UserID != "2" || c.Name != "Beatriz" || c.Avatar != "https://cdn/bia.png" {
		t.Errorf("normalized chat = %+v", c)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2 (total_news_msgs)", c.UnreadCount)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(c.Messages))
	}
	if c.Messages[0].FromMe {
		t.Error("peer message flagged FromMe")
	}
	if !c.Messages[1].FromMe {
		t.Error("own message not flagged FromMe")
	}
	if c.LastMessage != "tudo bem?" {
		t.Errorf("last message preview = %q", c.LastMessage)
	}
}

func TestFetchNormalizesEnglishFieldNames(t *testing.T) {
	body := `[{
		"id": "5",
		"name": "Caio",
		"avatar": "https://cdn/c.png",
		"unread_count": 1,
		"messages": [
			{"message_id": "m9", "sender_id": "5", "content": "", "message_type": "image", "file_url": "https://cdn/p.jpg", "is_delivered": true}
		]
	}]`
	loader := snapshotServer(t, body, http.StatusOK)

	convos, err := loader.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c := convos[0]
	if c.UserID != "5" || c.Name != "Caio" || c.UnreadCount != 1 {
		t.Errorf("normalized chat = %+v", c)
	}
	msg := c.Messages[0]
	if msg.ID != "m9" || msg.Kind != "image" || msg.Status != store.StatusDelivered {
		t.Errorf("message = %+v", msg)
	}
	if c.LastMessage != "[image]" {
		t.Errorf("preview = %q, want [image]", c.LastMessage)
	}
}

func TestFetchCountsUnreadWhenCounterAbsent(t *testing.T) {
	body := `[{
		"user_id": "3",
		"mensagens": [
			{"id": "a", "sender_id": "3", "is_read": false},
			{"id": "b", "sender_id": "3", "is_read": false},
			{"id": "c", "sender_id": "1", "is_read": false}
		]
	}]`
	loader := snapshotServer(t, body, http.StatusOK)

	convos, err := loader.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if convos[0].UnreadCount != 2 {
		t.Errorf("unread = %d, want 2 (own message excluded)", convos[0].UnreadCount)
	}
}

func TestFetchSkipsChatsWithoutID(t *testing.T) {
	loader := snapshotServer(t, `[{"nome":"ghost"},{"user_id":"1","nome":"ok"}]`, http.StatusOK)
	convos, err := loader.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convos) != 1 || convos[0].UserID != "1" {
		t.Errorf("convos = %+v", convos)
	}
}

func TestFetchErrorReturnsNoPartialData(t *testing.T) {
	loader := snapshotServer(t, `boom`, http.StatusInternalServerError)
	convos, err := loader.Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch should fail on 500")
	}
	if convos != nil {
		t.Errorf("convos = %v, want nil on error", convos)
	}
}
