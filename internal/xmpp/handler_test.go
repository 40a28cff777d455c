package xmpp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"jabagram/internal/db"
	"jabagram/internal/messages"
	"jabagram/internal/model"
	"jabagram/internal/store"
	"jabagram/internal/xmpp/wire"
)

const handlerMUC = "bridge@conference.example.org"

// fakeListener is the primary session as seen by a room handler.
type fakeListener struct {
	fakePoster
	slot    *wire.UploadSlot
	slotErr error

	mu     sync.Mutex
	leaves []string
}

func (l *fakeListener) RequestUploadSlot(ctx context.Context, filename, mime string, size int64) (*wire.UploadSlot, error) {
	if l.slotErr != nil {
		return nil, l.slotErr
	}
	return l.slot, nil
}

func (l *fakeListener) LeaveMUC(muc, nick string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leaves = append(l.leaves, muc+"/"+nick)
	return nil
}

type handlerFixture struct {
	handler  *RoomHandler
	listener *fakeListener
	dialer   *fakeDialer
	stickers *store.StickerCache
	store    *store.MessageStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	listener := &fakeListener{}
	dialer := &fakeDialer{}
	actors := newTestFactory(t, dialer, listener, 4)
	msgStore := store.NewMessageStore(gdb)
	stickers := store.NewStickerCache(gdb)

	h, err := NewRoomHandler(RoomHandlerOpts{
		MUC:      handlerMUC,
		Listener: listener,
		Actors:   actors,
		Stickers: stickers,
		Store:    msgStore,
		Messages: messages.Default(),
		HTTP:     http.DefaultClient,
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("create handler: %v", err)
	}
	return &handlerFixture{
		handler:  h,
		listener: listener,
		dialer:   dialer,
		stickers: stickers,
		store:    msgStore,
	}
}

func telegramMessage(id, content, reply string) *model.Message {
	return &model.Message{
		ID:      id,
		Chat:    model.Chat{Address: "-100123"},
		Sender:  model.Sender{Name: "Alice", ID: "101"},
		Content: content,
		Reply:   reply,
	}
}

func TestRoomHandlerSendMessageRecordsStanza(t *testing.T) {
	fx := newHandlerFixture(t)

	if err := fx.handler.SendMessage(context.Background(), telegramMessage("42", "hello", "")); err != nil {
		t.Fatalf("send: %v", err)
	}

	posts := fx.dialer.session(0).allPosts()
	if len(posts) != 1 || posts[0].body != "hello" || posts[0].muc != handlerMUC {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	ref, ok := fx.store.GetByID(-100123, nil, handlerMUC, "42")
	if !ok {
		t.Fatal("message was not recorded")
	}
	if ref.StanzaID != "stanza-1" {
		t.Fatalf("recorded stanza id = %q", ref.StanzaID)
	}
}

func TestRoomHandlerSendMessagePrependsQuote(t *testing.T) {
	fx := newHandlerFixture(t)

	if err := fx.handler.SendMessage(context.Background(), telegramMessage("43", "answer", "question\nsecond line")); err != nil {
		t.Fatalf("send: %v", err)
	}

	posts := fx.dialer.session(0).allPosts()
	want := "> question\n> second line\nanswer"
	if len(posts) != 1 || posts[0].body != want {
		t.Fatalf("body = %q, want %q", posts[0].body, want)
	}
}

func TestRoomHandlerEditCorrectsOriginal(t *testing.T) {
	fx := newHandlerFixture(t)

	if err := fx.handler.SendMessage(context.Background(), telegramMessage("42", "helo", "")); err != nil {
		t.Fatalf("send: %v", err)
	}
	edit := telegramMessage("42", "hello", "")
	edit.Edit = true
	if err := fx.handler.EditMessage(context.Background(), edit); err != nil {
		t.Fatalf("edit: %v", err)
	}

	posts := fx.dialer.session(0).allPosts()
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[1].kind != "replace" || posts[1].ref != "stanza-1" || posts[1].body != "hello" {
		t.Fatalf("unexpected correction: %+v", posts[1])
	}
}

func TestRoomHandlerEditOfUnknownMessageDropped(t *testing.T) {
	fx := newHandlerFixture(t)

	edit := telegramMessage("77", "whatever", "")
	edit.Edit = true
	if err := fx.handler.EditMessage(context.Background(), edit); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if fx.dialer.count() != 0 {
		t.Fatal("dropped edit still dialed an actor")
	}
}

func uploadServer(t *testing.T, fileBody string) (*httptest.Server, *fakeListener, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var puts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/file/cat.webp":
			w.Header().Set("Content-Type", "image/webp")
			io.WriteString(w, fileBody)
		case r.Method == http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			puts = append(puts, string(data))
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodHead && r.URL.Path == "/served/cat.webp":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	listener := &fakeListener{slot: &wire.UploadSlot{
		PutURL: srv.URL + "/put/cat.webp",
		GetURL: srv.URL + "/served/cat.webp",
	}}
	return srv, listener, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), puts...)
	}
}

func newUploadFixture(t *testing.T, fileBody string) (*handlerFixture, *httptest.Server, func() []string) {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	srv, listener, puts := uploadServer(t, fileBody)
	dialer := &fakeDialer{}
	actors := newTestFactory(t, dialer, listener, 4)
	stickers := store.NewStickerCache(gdb)
	msgStore := store.NewMessageStore(gdb)
	h, err := NewRoomHandler(RoomHandlerOpts{
		MUC:      handlerMUC,
		Listener: listener,
		Actors:   actors,
		Stickers: stickers,
		Store:    msgStore,
		Messages: messages.Default(),
		HTTP:     srv.Client(),
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("create handler: %v", err)
	}
	return &handlerFixture{
		handler:  h,
		listener: listener,
		dialer:   dialer,
		stickers: stickers,
		store:    msgStore,
	}, srv, puts
}

func testAttachment(srv *httptest.Server, name string) *model.Attachment {
	return &model.Attachment{
		Message: model.Message{
			ID:      "50",
			Chat:    model.Chat{Address: "-100123"},
			Sender:  model.Sender{Name: "Alice", ID: "101"},
			Content: name,
		},
		URL: func(context.Context) (string, error) {
			return srv.URL + "/file/cat.webp", nil
		},
		MIME: "image/webp",
	}
}

func TestRoomHandlerSendAttachmentUploadsAndPosts(t *testing.T) {
	fx, srv, puts := newUploadFixture(t, "webpbytes")

	att := testAttachment(srv, "Photo from Alice.webp")
	att.Size = int64(len("webpbytes"))
	if err := fx.handler.SendAttachment(context.Background(), att); err != nil {
		t.Fatalf("send attachment: %v", err)
	}

	if got := puts(); len(got) != 1 || got[0] != "webpbytes" {
		t.Fatalf("unexpected uploads: %q", got)
	}
	posts := fx.dialer.session(0).allPosts()
	if len(posts) != 1 || posts[0].kind != "oob" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if !strings.HasSuffix(posts[0].body, "/served/cat.webp") {
		t.Fatalf("posted url = %q", posts[0].body)
	}
}

func TestRoomHandlerAttachmentReplyPostedFirst(t *testing.T) {
	fx, srv, _ := newUploadFixture(t, "webpbytes")

	att := testAttachment(srv, "Photo from Alice.webp")
	att.Reply = "look at this"
	if err := fx.handler.SendAttachment(context.Background(), att); err != nil {
		t.Fatalf("send attachment: %v", err)
	}

	posts := fx.dialer.session(0).allPosts()
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].kind != "chat" || posts[0].body != "> look at this" {
		t.Fatalf("unexpected quote post: %+v", posts[0])
	}
	if posts[1].kind != "oob" {
		t.Fatalf("unexpected second post: %+v", posts[1])
	}
}

func TestRoomHandlerStickerCacheHitSkipsUpload(t *testing.T) {
	fx, srv, puts := newUploadFixture(t, "webpbytes")

	if err := fx.stickers.Add("file-u1", srv.URL+"/served/cat.webp"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	st := &model.Sticker{Attachment: *testAttachment(srv, "Sticker X from Alice.webp"), FileID: "file-u1"}
	if err := fx.handler.SendSticker(context.Background(), st); err != nil {
		t.Fatalf("send sticker: %v", err)
	}

	if got := puts(); len(got) != 0 {
		t.Fatalf("cache hit still uploaded: %q", got)
	}
	posts := fx.dialer.session(0).allPosts()
	if len(posts) != 1 || posts[0].kind != "oob" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestRoomHandlerStaleStickerReuploaded(t *testing.T) {
	fx, srv, puts := newUploadFixture(t, "webpbytes")

	if err := fx.stickers.Add("file-u1", srv.URL+"/gone/cat.webp"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	st := &model.Sticker{Attachment: *testAttachment(srv, "Sticker X from Alice.webp"), FileID: "file-u1"}
	if err := fx.handler.SendSticker(context.Background(), st); err != nil {
		t.Fatalf("send sticker: %v", err)
	}

	if got := puts(); len(got) != 1 {
		t.Fatalf("stale sticker was not reuploaded: %q", got)
	}
	url, ok := fx.stickers.Get("file-u1")
	if !ok || !strings.HasSuffix(url, "/served/cat.webp") {
		t.Fatalf("cache not refreshed: %q", url)
	}
}

func TestRoomHandlerUnbridge(t *testing.T) {
	fx := newHandlerFixture(t)

	if err := fx.handler.SendMessage(context.Background(), telegramMessage("42", "hello", "")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := fx.handler.Unbridge(context.Background()); err != nil {
		t.Fatalf("unbridge: %v", err)
	}

	fx.listener.fakePoster.mu.Lock()
	notice := fx.listener.fakePoster.posts
	fx.listener.fakePoster.mu.Unlock()
	if len(notice) != 1 || notice[0].body != messages.Default().UnbridgeXMPP {
		t.Fatalf("unexpected notice: %+v", notice)
	}

	fx.listener.mu.Lock()
	leaves := append([]string(nil), fx.listener.leaves...)
	fx.listener.mu.Unlock()
	if len(leaves) != 1 || leaves[0] != handlerMUC+"/"+bridgeName {
		t.Fatalf("unexpected listener leaves: %v", leaves)
	}

	sess := fx.dialer.session(0)
	sess.mu.Lock()
	actorLeaves := len(sess.leaves)
	sess.mu.Unlock()
	if actorLeaves != 1 {
		t.Fatalf("actor left %d times, want 1", actorLeaves)
	}
}

func TestRoomHandlerSendEventUsesListener(t *testing.T) {
	fx := newHandlerFixture(t)

	ev := &model.Event{Chat: model.Chat{Address: "-100123"}, Content: "Alice joined"}
	if err := fx.handler.SendEvent(context.Background(), ev); err != nil {
		t.Fatalf("send event: %v", err)
	}

	fx.listener.fakePoster.mu.Lock()
	posts := fx.listener.fakePoster.posts
	fx.listener.fakePoster.mu.Unlock()
	if len(posts) != 1 || posts[0].body != "Alice joined" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if fx.dialer.count() != 0 {
		t.Fatal("event went through an actor")
	}
}
