package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tendermint/sharedmempool/types"
)

// broadcastTxHandler admits a JSON encoded transaction submitted by a local
// client. Admission verdicts are reported in the body with status 200;
// malformed requests get a 400.
func (env *Environment) broadcastTxHandler(maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		if maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		var tx types.Tx
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("error decoding tx: %w", err))
			return
		}

		res, err := env.BroadcastTx(r, tx)
		if err != nil {
			status := http.StatusInternalServerError
			if res == nil {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// BroadcastTx submits tx to the local mempool. A nil result with an error
// means the transaction was malformed.
func (env *Environment) BroadcastTx(r *http.Request, tx types.Tx) (*ResultBroadcastTx, error) {
	if err := tx.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid tx: %w", err)
	}

	res := &ResultBroadcastTx{Key: tx.Key()}
	err := env.Submitter.SubmitLocal(r.Context(), tx)
	switch {
	case err == nil:
		res.Accepted = true
	case types.IsAdmissionError(err):
		res.Reason = types.RejectReason(err)
		res.Log = err.Error()
	default:
		return res, err
	}
	return res, nil
}
