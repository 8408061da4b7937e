package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"correlationId": "corr-1"}
	require.NoError(t, formatter.Error("SLOT_UNAVAILABLE", "slot gone", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SLOT_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "slot gone", resp.Error.Message)
	assert.Equal(t, map[string]any{"correlationId": "corr-1"}, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success(message("Signed out")))
	assert.Equal(t, "Signed out\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Error("USAGE", "bad input", map[string]string{"x": "y"}))
	assert.Equal(t, "Error [USAGE]: bad input\n", buf.String())

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("USAGE", "bad input", "more"))
	assert.Equal(t, "Error [USAGE]: bad input\nDetails: more\n", buf.String())
}

func TestOutputFormatter_FailListsEveryField(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	vErr := apierr.NewValidationError("items", apierr.ReasonCartEmpty)
	vErr.Add("terms", apierr.ReasonTermsRequired)
	vErr.Add("phone", apierr.ReasonPhoneInvalid)

	err := formatter.Fail(vErr, "en")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, vErr))
	assert.Equal(t, "Error [VALIDATION_FAILED]: Add items to your cart first.\n"+
		"  terms: Please accept the delivery terms.\n"+
		"  phone: Please enter a valid phone number.\n", buf.String())
}

func TestOutputFormatter_FailJSONCarriesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	vErr := apierr.NewValidationError("terms", apierr.ReasonTermsRequired)
	vErr.Add("slot", apierr.ReasonSlotRequired)
	require.Error(t, formatter.Fail(vErr, "ar"))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string              `json:"code"`
			Message string              `json:"message"`
			Details []apierr.FieldError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	assert.Equal(t, "يرجى الموافقة على شروط التوصيل.", resp.Error.Message)
	assert.Len(t, resp.Error.Details, 2)
}

func TestOutputFormatter_FailServerError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	apiErr := &apierr.Error{Kind: apierr.KindServer, Status: 409, Code: "ORDER_NOT_CANCELABLE", CorrelationID: "corr-9"}
	err := formatter.Fail(apiErr, "en")
	require.Error(t, err)
	assert.Equal(t, "Error [ORDER_NOT_CANCELABLE]: This order can no longer be canceled.\n"+
		"Details: map[correlationId:corr-9]\n", buf.String())

	buf.Reset()
	formatter.Verbose = false
	require.Error(t, formatter.Fail(&apierr.Error{Kind: apierr.KindTimeout}, "en"))
	assert.Equal(t, "Error [TIMEOUT]: The request took too long. Please try again.\n", buf.String())
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open client state", cause)
	assert.Equal(t, "failed to open client state: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	plain := &ExitError{Code: ExitFailure, Message: "refused"}
	assert.Equal(t, "refused", plain.Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestVerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestMessage_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(message(`said "hi"`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"said \"hi\""}`, string(raw))
}
