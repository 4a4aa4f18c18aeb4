package document

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongs12/learning-rag/internal/ingestion"
	"github.com/chongs12/learning-rag/pkg/middleware"
	"github.com/chongs12/learning-rag/pkg/utils"
)

type apiFixture struct {
	*fixture
	router *gin.Engine
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	jm := utils.NewJWTManager("test-secret", "learning-rag")
	tok, err := jm.Issue("u1", "user", time.Minute)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(f.svc).SetupRoutes(r, middleware.NewAuthMiddleware(jm))
	return &apiFixture{fixture: f, router: r, token: tok}
}

func (a *apiFixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+a.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func multipartFile(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("title", "Lecture notes"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadEndpointAccepts(t *testing.T) {
	a := newAPIFixture(t)
	body, ct := multipartFile(t, "notes.txt", "Photosynthesis converts light.")

	w := a.do(t, http.MethodPost, "/api/v1/documents", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Document struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PROCESSING", resp.Document.Status)
	assert.Equal(t, "Lecture notes", resp.Document.Title)
	require.Len(t, a.disp.jobs, 1)
	assert.Equal(t, resp.Document.ID, a.disp.jobs[0].DocumentID)

	w = a.do(t, http.MethodGet, "/api/v1/documents/"+resp.Document.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadEndpointErrors(t *testing.T) {
	a := newAPIFixture(t)

	w := a.do(t, http.MethodPost, "/api/v1/documents", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct := multipartFile(t, "tool.exe", "MZ")
	w = a.do(t, http.MethodPost, "/api/v1/documents", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	a.disp.err = ingestion.ErrQueueFull
	body, ct = multipartFile(t, "notes.txt", "text")
	w = a.do(t, http.MethodPost, "/api/v1/documents", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ERROR"`)
}

func TestDocumentEndpointsRequireAuth(t *testing.T) {
	a := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMissingDocumentIs404(t *testing.T) {
	a := newAPIFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/documents/1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{http.MethodPost, "/api/v1/documents/1b4e28ba-2fa1-11d2-883f-0016d3cca427/reprocess"},
		{http.MethodDelete, "/api/v1/documents/1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{http.MethodDelete, "/api/v1/subjects/1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
	} {
		w := a.do(t, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSubjectEndpoints(t *testing.T) {
	a := newAPIFixture(t)

	w := a.do(t, http.MethodPost, "/api/v1/subjects", bytes.NewBufferString(`{"name":"Biology"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Subject struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"subject"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Biology", created.Subject.Name)

	w = a.do(t, http.MethodGet, "/api/v1/subjects", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = a.do(t, http.MethodPost, "/api/v1/subjects", bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/subjects/"+created.Subject.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{created.Subject.ID}, a.cleaner.subjects)
}
