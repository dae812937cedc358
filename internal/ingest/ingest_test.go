package ingest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T, approve ApproveFunc) (*Server, *httptest.Server, chan CompletedUpload) {
	t.Helper()
	completions := make(chan CompletedUpload, 1)
	s := New(approve, func(c CompletedUpload) { completions <- c })
	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)
	return s, ts, completions
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(httpURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestIngestUploadAcceptedFlow(t *testing.T) {
	destDir := t.TempDir()
	approve := func(name string, size int64) (bool, string) { return true, "" }
	s, ts, completions := startTestServer(t, approve)

	token, _, err := s.MintToken(destDir)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	conn := dialWS(t, ts.URL+"/"+token+"/ws")
	defer conn.Close()

	content := strings.Repeat("x", 300*1024) // spans more than one 256 KiB frame

	if err := conn.WriteJSON(fileInfoMsg{Type: "file_info", FileName: "report.pdf", FileSize: int64(len(content))}); err != nil {
		t.Fatalf("write file_info: %v", err)
	}

	var accepted acceptedMsg
	if err := conn.ReadJSON(&accepted); err != nil {
		t.Fatalf("read accepted: %v", err)
	}
	if accepted.Type != "accepted" {
		t.Fatalf("expected accepted, got %+v", accepted)
	}

	for offset := 0; offset < len(content); offset += maxBinaryFrame {
		end := offset + maxBinaryFrame
		if end > len(content) {
			end = len(content)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(content[offset:end])); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	var gotComplete bool
	for !gotComplete {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read during stream: %v", err)
		}
		if strings.Contains(string(data), `"complete"`) {
			gotComplete = true
		}
	}

	select {
	case upload := <-completions:
		if upload.LogicalName != "report.pdf" {
			t.Fatalf("unexpected logical name: %q", upload.LogicalName)
		}
		if upload.Size != int64(len(content)) {
			t.Fatalf("unexpected size: %d", upload.Size)
		}
		got, err := os.ReadFile(upload.Path)
		if err != nil {
			t.Fatalf("read uploaded file: %v", err)
		}
		if string(got) != content {
			t.Fatalf("uploaded content mismatch")
		}
		if filepath.Dir(upload.Path) != destDir {
			t.Fatalf("uploaded file not under destDir: %s", upload.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onComplete callback never fired")
	}
}

func TestIngestTokenSingleUse(t *testing.T) {
	destDir := t.TempDir()
	s, ts, _ := startTestServer(t, func(string, int64) (bool, string) { return true, "" })

	token, _, err := s.MintToken(destDir)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	first := dialWS(t, ts.URL+"/"+token+"/ws")
	defer first.Close()

	resp, err := http.Get(ts.URL + "/" + token + "/ws")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on reused token, got %d", resp.StatusCode)
	}
}

func TestIngestRejectedUpload(t *testing.T) {
	destDir := t.TempDir()
	approve := func(name string, size int64) (bool, string) { return false, "declined by user" }
	s, ts, completions := startTestServer(t, approve)

	token, _, err := s.MintToken(destDir)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	conn := dialWS(t, ts.URL+"/"+token+"/ws")
	defer conn.Close()

	conn.WriteJSON(fileInfoMsg{Type: "file_info", FileName: "no.bin", FileSize: 10})

	var rejected rejectedMsg
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("read rejected: %v", err)
	}
	if rejected.Type != "rejected" || rejected.Reason != "declined by user" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}

	select {
	case <-completions:
		t.Fatalf("onComplete should not fire on rejection")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIngestUploaderPageServed(t *testing.T) {
	destDir := t.TempDir()
	s, ts, _ := startTestServer(t, nil)

	token, _, err := s.MintToken(destDir)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	resp, err := http.Get(ts.URL + "/" + token + "/")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIngestUnknownTokenNotFound(t *testing.T) {
	_, ts, _ := startTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent/")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
