package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
)

const qrSize = 320

// matchHandler returns the latest stored state of a match.
func (that *Server) matchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	log := that.logger.With("method", "matchHandler")

	state, err := that.sessions.Snapshot(r.Context(), ps.ByName("id"))
	if err != nil {
		that.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(state); err != nil {
		log.Error("failed to encode match", "error", err)
	}
}

// qrHandler renders the match id as a PNG QR code so the second player can
// scan it instead of typing it.
func (that *Server) qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	log := that.logger.With("method", "qrHandler")

	matchID := ps.ByName("id")

	if _, err := that.sessions.Snapshot(r.Context(), matchID); err != nil {
		that.writeError(w, err)
		return
	}

	png, err := qrcode.Encode(matchID, qrcode.Medium, qrSize)
	if err != nil {
		log.Error("failed to generate qr code", "error", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (that *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperror.ErrInvalidMatchID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperror.ErrMatchNotFound):
		http.Error(w, "match not found", http.StatusNotFound)
	case errors.Is(err, apperror.ErrStoreUnavailable):
		that.logger.Error("store unavailable", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		that.logger.Error("unexpected error", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
