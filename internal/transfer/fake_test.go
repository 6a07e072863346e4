package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphdrive/internal/graph"
)

// fakeSession holds the bytes a fake upload session has received.
type fakeSession struct {
	data []byte
	have []bool
}

func (s *fakeSession) missing() []string {
	var out []string

	size := len(s.have)

	for i := 0; i < size; {
		if s.have[i] {
			i++
			continue
		}

		j := i
		for j < size && !s.have[j] {
			j++
		}

		if j == size {
			out = append(out, fmt.Sprintf("%d-", i))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", i, j-1))
		}

		i = j
	}

	if out == nil {
		out = []string{}
	}

	return out
}

// fakeGraph serves the subset of the drive API used by uploads and copies.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	sessions   map[string]*fakeSession
	nextID     int
	creates    int
	failPuts   int   // PUTs to fail with 503 before succeeding
	rejectPuts int   // PUTs to answer 416 before accepting
	putLens    []int // body lengths of chunk PUTs, including failed ones
	itemSize   int64 // reported size override; 0 reports the real size
	small      map[string][]byte
	copySteps  []string // copy monitor bodies, served in order
	copyPolls  int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	f := &fakeGraph{t: t, sessions: map[string]*fakeSession{}, small: map[string][]byte{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeGraph) client() *graph.Client {
	return graph.NewClient(f.srv.URL, graph.DriveByID("d"), http.DefaultClient, graph.StaticToken("t"), testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// addSession registers a session that already holds data[:received].
func (f *fakeGraph) addSession(data []byte, received int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("s%d", f.nextID)
	s := &fakeSession{data: make([]byte, len(data)), have: make([]bool, len(data))}
	copy(s.data, data[:received])

	for i := range received {
		s.have[i] = true
	}

	f.sessions[id] = s

	return f.srv.URL + "/up/" + id
}

func (f *fakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/createUploadSession"):
		f.creates++
		f.nextID++
		id := fmt.Sprintf("s%d", f.nextID)
		f.sessions[id] = &fakeSession{}
		fmt.Fprintf(w, `{"uploadUrl":"%s/up/%s","expirationDateTime":"2099-01-01T00:00:00Z","nextExpectedRanges":["0-"]}`,
			f.srv.URL, id)

	case strings.HasPrefix(r.URL.Path, "/up/"):
		f.handleSession(w, r, strings.TrimPrefix(r.URL.Path, "/up/"))

	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, ":/content"):
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(r.URL.Path, "conflict") {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":{"code":"nameAlreadyExists","message":"exists"}}`)

			return
		}

		f.small[r.URL.Path] = body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"small","size":%d,"file":{}}`, f.reportSize(int64(len(body))))

	case strings.HasPrefix(r.URL.Path, "/monitor/"):
		f.copyPolls++
		if len(f.copySteps) == 0 {
			f.t.Errorf("unexpected copy poll")
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		step := f.copySteps[0]
		f.copySteps = f.copySteps[1:]

		if step == "503" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		fmt.Fprint(w, step)

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeGraph) handleSession(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := f.sessions[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"itemNotFound","message":"no such session"}}`)

		return
	}

	switch r.Method {
	case http.MethodGet:
		writeRanges(w, s.missing())

	case http.MethodDelete:
		delete(f.sessions, id)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.putLens = append(f.putLens, len(body))

		if f.failPuts > 0 {
			f.failPuts--
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		if f.rejectPuts > 0 {
			f.rejectPuts--
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			fmt.Fprint(w, `{"error":{"code":"invalidRange","message":"range already received"}}`)

			return
		}

		var start, end, total int64
		_, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total)
		require.NoError(f.t, err)

		if s.data == nil {
			s.data = make([]byte, total)
			s.have = make([]bool, total)
		}

		copy(s.data[start:], body)

		for i := start; i <= end; i++ {
			s.have[i] = true
		}

		if missing := s.missing(); len(missing) > 0 {
			w.WriteHeader(http.StatusAccepted)
			writeRanges(w, missing)

			return
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"big","size":%d,"file":{}}`, f.reportSize(total))
	}
}

func (f *fakeGraph) reportSize(real int64) int64 {
	if f.itemSize != 0 {
		return f.itemSize
	}

	return real
}

func writeRanges(w http.ResponseWriter, ranges []string) {
	b, _ := json.Marshal(ranges)
	fmt.Fprintf(w, `{"expirationDateTime":"2099-01-01T00:00:00Z","nextExpectedRanges":%s}`, b)
}

func (f *fakeGraph) sessionData(uploadURL string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sessions[uploadURL[strings.LastIndex(uploadURL, "/")+1:]].data
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}

	return b
}

func (f *fakeGraph) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates
}

func (f *fakeGraph) puts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.putLens...)
}

func (f *fakeGraph) smallBody(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.small[path]
}

func (f *fakeGraph) copyPollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.copyPolls
}
