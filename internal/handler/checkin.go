package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
	"github.com/sayuricruzv/project-YeyosFitness/internal/service"
	"github.com/skip2/go-qrcode"
)

// CheckInSigner issues and verifies the payload encoded in check-in QR codes:
// "classID|reservationID|unix|signature".
type CheckInSigner struct {
	secret []byte
	now    func() time.Time
}

// NewCheckInSigner constructs a signer for the given secret.
func NewCheckInSigner(secret string) *CheckInSigner {
	return &CheckInSigner{secret: []byte(secret), now: time.Now}
}

func (c *CheckInSigner) sign(msg string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Payload returns the signed check-in payload for a reservation.
func (c *CheckInSigner) Payload(res model.Reservation) string {
	msg := fmt.Sprintf("%s|%s|%d", res.ClassID, res.ID, c.now().Unix())
	return msg + "|" + c.sign(msg)
}

// Verify checks payload and returns the reservation id it names.
func (c *CheckInSigner) Verify(payload string) (string, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: malformed check-in code", service.ErrInvalidInput)
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return "", fmt.Errorf("%w: malformed check-in code", service.ErrInvalidInput)
	}
	msg := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(parts[3]), []byte(c.sign(msg))) {
		return "", fmt.Errorf("%w: check-in code signature mismatch", service.ErrInvalidInput)
	}
	return parts[1], nil
}

// CheckInQR handles GET /reservations/{id}/qr
// Returns a PNG QR code the front desk scans at check-in. Only Held
// reservations get one.
func (h *ClassHandler) CheckInQR(w http.ResponseWriter, r *http.Request) {
	res, err := h.ownedReservation(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Status != model.StatusHeld {
		writeServiceError(w, r, fmt.Errorf("reservation is %s: %w", res.Status, repository.ErrInvalidState))
		return
	}

	png, err := qrcode.Encode(h.checks.Payload(*res), qrcode.Medium, 256)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("encode qr: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type checkInRequest struct {
	Payload string `json:"payload"`
}

// CheckIn handles POST /checkin (admin)
// Verifies a scanned QR payload and marks the reservation attended.
func (h *ClassHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	reservationID, err := h.checks.Verify(req.Payload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.MarkAttendance(r.Context(), reservationID, true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
