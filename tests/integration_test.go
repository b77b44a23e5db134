package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/zombor/sub-tracker/internal/catalog"
	"github.com/zombor/sub-tracker/internal/server"
	"github.com/zombor/sub-tracker/internal/session"
	"github.com/zombor/sub-tracker/internal/subscription"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

// MockScanner for testing
type MockScanner struct {
	rawText string
	scanErr error
}

func (m *MockScanner) ScanStatement(imageData []byte, contentType string) (string, error) {
	if m.scanErr != nil {
		return "", m.scanErr
	}
	return m.rawText, nil
}

func (m *MockScanner) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		dbPath   string
		db       *subscription.BoltDB
		scanner  *MockScanner
		service  *subscription.Service
		srv      *server.Server
		ghServer *ghttp.Server
		err      error
	)

	BeforeEach(func() {
		// Create temp directory for test artifacts
		tempDir, err = os.MkdirTemp("", "sub-tracker-test-*")
		Expect(err).NotTo(HaveOccurred())

		dbPath = filepath.Join(tempDir, "test.db")

		// Initialize real dependencies
		db, err = subscription.NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())

		service = subscription.NewService(db)
		Expect(service.SeedCatalog()).NotTo(HaveOccurred())

		// Initialize mock scanner with the text a vision model would return
		scanner = &MockScanner{
			rawText: `[{"name":"Netflix","amountUSD":15.49},{"name":"Some Local Gym","amountUSD":30}]`,
		}

		srv = server.NewServer(service, catalog.NewMatcher(db), scanner, session.NewManager(service), server.BasicAuth{}) // No auth for testing convenience

		// Initialize ghttp server
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		// Clean up
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	})

	It("should detect subscriptions from a statement, save one, then delete and undo it", func() {
		ghServer.AppendHandlers(
			srv.ServeHTTP, // detect
			srv.ServeHTTP, // create
			srv.ServeHTTP, // list
			srv.ServeHTTP, // delete
			srv.ServeHTTP, // undo
			srv.ServeHTTP, // final list
		)

		// --- Step 1: Detect ---

		fileContent := []byte("fake statement image bytes")
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "statement.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(fileContent)
		Expect(err).NotTo(HaveOccurred())
		err = writer.Close()
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/detect-subscriptions", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))

		var detectResp struct {
			Matches []catalog.MatchedItem `json:"matches"`
			Items   []json.RawMessage     `json:"items"`
		}
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		err = json.Unmarshal(respBody, &detectResp)
		Expect(err).NotTo(HaveOccurred())

		// Netflix is in the seeded catalog and should carry its cancellation link
		Expect(detectResp.Matches).To(HaveLen(1))
		Expect(detectResp.Matches[0].Name).To(Equal("Netflix"))
		Expect(detectResp.Matches[0].CancellationLink).NotTo(BeNil())
		Expect(detectResp.Matches[0].AmountUSD).To(HaveValue(Equal(15.49)))

		// Both extracted candidates come back for review
		Expect(detectResp.Items).To(HaveLen(2))

		// --- Step 2: Save the detected subscription ---

		createBody, _ := json.Marshal(map[string]any{
			"userId":      "user-1",
			"serviceName": detectResp.Matches[0].Name,
			"price":       15.49,
		})
		createReq, err := http.NewRequest("POST", ghServer.URL()+"/api/subscriptions", bytes.NewBuffer(createBody))
		Expect(err).NotTo(HaveOccurred())
		createReq.Header.Set("Content-Type", "application/json")

		createResp, err := http.DefaultClient.Do(createReq)
		Expect(err).NotTo(HaveOccurred())
		defer createResp.Body.Close()

		Expect(createResp.StatusCode).To(Equal(http.StatusCreated))

		var created subscription.Subscription
		Expect(json.NewDecoder(createResp.Body).Decode(&created)).NotTo(HaveOccurred())
		Expect(created.ID).NotTo(BeEmpty())

		// --- Step 3: List ---

		listResp, err := http.Get(ghServer.URL() + "/api/subscriptions?userId=user-1")
		Expect(err).NotTo(HaveOccurred())
		defer listResp.Body.Close()

		Expect(listResp.StatusCode).To(Equal(http.StatusOK))

		var subs []subscription.Subscription
		Expect(json.NewDecoder(listResp.Body).Decode(&subs)).NotTo(HaveOccurred())
		Expect(subs).To(HaveLen(1))
		Expect(subs[0].ServiceName).To(Equal("Netflix"))

		// --- Step 4: Delete ---

		deleteBody, _ := json.Marshal(map[string]any{"userId": "user-1"})
		deleteReq, err := http.NewRequest("DELETE", ghServer.URL()+"/api/subscriptions/"+created.ID, bytes.NewBuffer(deleteBody))
		Expect(err).NotTo(HaveOccurred())
		deleteReq.Header.Set("Content-Type", "application/json")

		deleteResp, err := http.DefaultClient.Do(deleteReq)
		Expect(err).NotTo(HaveOccurred())
		defer deleteResp.Body.Close()

		Expect(deleteResp.StatusCode).To(Equal(http.StatusOK))

		// Verify the row is gone server-side
		remaining, err := service.List("user-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(remaining).To(BeEmpty())

		// --- Step 5: Undo within the window ---

		undoBody, _ := json.Marshal(map[string]any{"userId": "user-1"})
		undoReq, err := http.NewRequest("POST", ghServer.URL()+"/api/subscriptions/undo", bytes.NewBuffer(undoBody))
		Expect(err).NotTo(HaveOccurred())
		undoReq.Header.Set("Content-Type", "application/json")

		undoResp, err := http.DefaultClient.Do(undoReq)
		Expect(err).NotTo(HaveOccurred())
		defer undoResp.Body.Close()

		Expect(undoResp.StatusCode).To(Equal(http.StatusNoContent))

		// --- Step 6: Final list shows the restored row under a new id ---

		finalResp, err := http.Get(ghServer.URL() + "/api/subscriptions?userId=user-1")
		Expect(err).NotTo(HaveOccurred())
		defer finalResp.Body.Close()

		Expect(finalResp.StatusCode).To(Equal(http.StatusOK))

		var restored []subscription.Subscription
		Expect(json.NewDecoder(finalResp.Body).Decode(&restored)).NotTo(HaveOccurred())
		Expect(restored).To(HaveLen(1))
		Expect(restored[0].ID).NotTo(Equal(created.ID))
		Expect(restored[0].ServiceName).To(Equal("Netflix"))
		Expect(restored[0].Price).To(Equal(15.49))
	})
})
