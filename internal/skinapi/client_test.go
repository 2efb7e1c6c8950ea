package skinapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/capture"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return NewClient(ClientOpts{BaseURL: ts.URL}), &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestLogin_Success(t *testing.T) {
	var got map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, 200, `{"access_token": "tok-123", "username": "alice", "token_type": "bearer"}`)
	})

	res, err := client.Login(context.Background(), "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, LoginResponse{AccessToken: "tok-123", Username: "alice"}, res)
	assert.Equal(t, map[string]string{"username": "alice", "password": "hunter22"}, got)
}

func TestLogin_BadCredentials(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, `{"detail": "Incorrect username or password"}`)
	})

	_, err := client.Login(context.Background(), "alice", "nope")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Incorrect username or password", authErr.Detail)
	assert.True(t, IsAuth(err))
}

func TestLogin_FallbackMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})

	_, err := client.Login(context.Background(), "alice", "pw")
	assert.Equal(t, MsgLoginFailed, UserMessage(err))
}

func TestLogin_NetworkError(t *testing.T) {
	client := NewClient(ClientOpts{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Login(context.Background(), "alice", "pw")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, MsgNetworkFailed, UserMessage(err))
}

func TestRegister_LocalValidationSkipsNetwork(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})

	cases := []struct{ username, email, password string }{
		{"", "a@example.com", "secret1"},
		{"alice", "not-an-email", "secret1"},
		{"alice", "a@example.com", "12345"},
	}
	for _, c := range cases {
		err := client.Register(context.Background(), c.username, c.email, c.password)
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestRegister_ServerDetail(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/register", r.URL.Path)
		writeJSON(w, 400, `{"detail": "Username already registered"}`)
	})

	err := client.Register(context.Background(), "alice", "a@example.com", "secret1")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Username already registered", validationErr.Detail)
}

func TestRegister_FastAPIValidationList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 422, `{"detail": [{"loc": ["body", "email"], "msg": "value is not a valid email address"}]}`)
	})

	err := client.Register(context.Background(), "alice", "a@example.com", "secret1")
	assert.Equal(t, "value is not a valid email address", UserMessage(err))
}

func TestRegister_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 201, `{"message": "ok"}`)
	})
	assert.NoError(t, client.Register(context.Background(), "alice", "a@example.com", "secret1"))
}

func TestAnalyze_AnonymousAndAuthenticated(t *testing.T) {
	var authHeaders []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("jpegdata"), data)
		assert.Equal(t, "face.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		writeJSON(w, 200, `{"skin_score": 80, "severity": "mild", "detection_summary": {"acne": 2}}`)
	})

	img := capture.Payload{Data: []byte("jpegdata"), MimeType: "image/jpeg", SourceName: "face.jpg"}

	res, err := client.Analyze(context.Background(), "", img)
	require.NoError(t, err)
	assert.Equal(t, float64(80), res.Score)

	_, err = client.Analyze(context.Background(), "tok", img)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer tok"}, authHeaders)
}

func TestAnalyze_Rejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, `{"detail": "No face detected"}`)
	})

	_, err := client.Analyze(context.Background(), "", capture.Payload{Data: []byte("x"), MimeType: "image/png"})
	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "No face detected", analysisErr.Detail)
}

func TestAnalyze_GenericMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := client.Analyze(context.Background(), "", capture.Payload{Data: []byte("x")})
	assert.Equal(t, MsgAnalysisFailed, UserMessage(err))
}

func TestListHistory(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/history", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, 200, `{"history": [
			{"id": 2, "date": "2025-03-02T10:00:00", "score": 88, "severity": "clear", "detection_summary": "{}"},
			{"id": 1, "date": "2025-03-01T10:00:00", "score": 60, "severity": "moderate", "detection_summary": {"acne": 3}}
		]}`)
	})

	_, err := client.ListHistory(context.Background(), "")
	assert.True(t, IsAuth(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls), "no request without a token")

	records, err := client.ListHistory(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, analysis.RecordID("2"), records[0].ID)
	assert.Equal(t, map[string]int{"acne": 3}, records[1].DetectionSummary.Value)
}

func TestListHistory_Unauthorized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, `{"detail": "Could not validate credentials"}`)
	})

	_, err := client.ListHistory(context.Background(), "expired")
	assert.True(t, IsAuth(err))
}

func TestListHistory_ServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})

	_, err := client.ListHistory(context.Background(), "tok")
	assert.False(t, IsAuth(err))
	assert.Equal(t, MsgHistoryFailed, UserMessage(err))
}

func TestDeleteHistory(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/api/history/1":
			writeJSON(w, 200, `{"message": "deleted"}`)
		case "/api/history/2":
			writeJSON(w, 404, `{"detail": "Not found"}`)
		case "/api/history/3":
			writeJSON(w, 401, `{"detail": "expired"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	ok, err := client.DeleteHistory(context.Background(), "tok", "1")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.DeleteHistory(context.Background(), "tok", "2")
	assert.NoError(t, err, "not found is a soft failure")
	assert.False(t, ok)

	ok, err = client.DeleteHistory(context.Background(), "tok", "3")
	assert.True(t, IsAuth(err))
	assert.False(t, ok)
}

func TestImageURL(t *testing.T) {
	client := NewClient(ClientOpts{BaseURL: "http://api.local:8000/"})
	assert.Equal(t, "http://api.local:8000", client.BaseURL())
	assert.Equal(t, "http://api.local:8000/static/a.jpg", client.ImageURL("/static/a.jpg"))
	assert.Equal(t, "http://api.local:8000/static/a.jpg", client.ImageURL("static/a.jpg"))
	assert.Equal(t, "https://cdn.example.com/a.jpg", client.ImageURL("https://cdn.example.com/a.jpg"))
	assert.Equal(t, "data:image/png;base64,AA==", client.ImageURL("data:image/png;base64,AA=="))
	assert.Equal(t, "", client.ImageURL(""))
}

func TestUserMessage_Unknown(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}
