package ingest

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"lukechampine.com/blake3"

	"github.com/fathomrelay/jend/internal/logging"
	"github.com/fathomrelay/jend/internal/sanitize"
)

// wire messages, text frames per spec.md §4.7.
type fileInfoMsg struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type acceptedMsg struct {
	Type string `json:"type"`
}

type rejectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type progressMsg struct {
	Type          string `json:"type"`
	ReceivedBytes int64  `json:"received_bytes"`
}

type completeMsg struct {
	Type string `json:"type"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsSession drives one accepted WebSocket connection through
// Awaiting-Info -> Awaiting-Approval -> Streaming -> (Done | Failed).
type wsSession struct {
	conn    *websocket.Conn
	destDir string
	approve ApproveFunc

	onComplete func(CompletedUpload)
	log        *logging.Logger

	writeMu sync.Mutex
	state   SessionState
}

func (s *wsSession) run() {
	s.conn.SetReadLimit(maxControlMessage)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(stopPing)

	info, err := s.awaitFileInfo()
	if err != nil {
		s.log.Debugf("awaitFileInfo: %v", err)
		return
	}

	logicalName, err := sanitize.FileName(info.FileName)
	if err != nil {
		s.writeJSON(rejectedMsg{Type: "rejected", Reason: "invalid_name"})
		return
	}
	if info.FileSize <= 0 || info.FileSize > maxFileSize {
		s.writeJSON(rejectedMsg{Type: "rejected", Reason: "file size out of range"})
		return
	}

	s.state = StateAwaitingApproval
	accept, reason := true, ""
	if s.approve != nil {
		accept, reason = s.approve(logicalName, info.FileSize)
	}
	if !accept {
		s.writeJSON(rejectedMsg{Type: "rejected", Reason: reason})
		return
	}
	if err := s.writeJSON(acceptedMsg{Type: "accepted"}); err != nil {
		return
	}

	s.state = StateStreaming
	upload, err := s.streamFile(logicalName, info.FileSize)
	if err != nil {
		s.state = StateFailed
		s.writeJSON(errorMsg{Type: "error", Message: err.Error()})
		return
	}

	s.state = StateDone
	s.writeJSON(completeMsg{Type: "complete"})
	if s.onComplete != nil {
		s.onComplete(upload)
	}
}

func (s *wsSession) awaitFileInfo() (fileInfoMsg, error) {
	s.state = StateAwaitingInfo
	var msg fileInfoMsg
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// streamFile reads binary frames until fileSize bytes are received,
// writing them to a temp file in destDir while feeding a BLAKE3 hasher,
// then renames to a collision-avoided final name. It never trusts the
// frame count or client pacing beyond the declared fileSize.
func (s *wsSession) streamFile(logicalName string, fileSize int64) (CompletedUpload, error) {
	tmp, err := os.CreateTemp(s.destDir, "ingest-*.part")
	if err != nil {
		return CompletedUpload{}, err
	}
	defer tmp.Close()

	h := blake3.New(32, nil)
	var received int64
	lastProgress := time.Now()

	for received < fileSize {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			os.Remove(tmp.Name())
			return CompletedUpload{}, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if _, err := tmp.Write(data); err != nil {
			os.Remove(tmp.Name())
			return CompletedUpload{}, err
		}
		h.Write(data)
		received += int64(len(data))

		if time.Since(lastProgress) >= 100*time.Millisecond || received >= fileSize {
			s.writeJSON(progressMsg{Type: "progress", ReceivedBytes: received})
			lastProgress = time.Now()
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return CompletedUpload{}, err
	}

	finalPath, err := sanitize.UniquePath(s.destDir, logicalName)
	if err != nil {
		os.Remove(tmp.Name())
		return CompletedUpload{}, err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return CompletedUpload{}, err
	}

	s.log.Debugf("received %s (%d bytes, blake3 %x)", logicalName, received, h.Sum(nil))

	return CompletedUpload{Path: finalPath, LogicalName: logicalName, Size: received}, nil
}

func (s *wsSession) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}
