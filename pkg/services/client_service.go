package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pinnokio/orchestrator/pkg/database"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// ClientService resolves per-thread business context by joining the client
// record, the mandate matching the company, and the ERP record under it.
type ClientService struct {
	db *database.Client
}

// NewClientService creates a new ClientService
func NewClientService(db *database.Client) *ClientService {
	return &ClientService{db: db}
}

// clientDoc is the stored client record.
type clientDoc struct {
	ClientUUID string `bson:"client_uuid"`
	UserID     string `bson:"user_id"`
	Name       string `bson:"name,omitempty"`
}

// mandateDoc is the stored mandate record.
type mandateDoc struct {
	ClientUUID           string `bson:"client_uuid"`
	ContactSpaceID       string `bson:"contact_space_id"`
	MandatePath          string `bson:"mandate_path"`
	CompanyName          string `bson:"company_name,omitempty"`
	DMSSystem            string `bson:"dms_system,omitempty"`
	CommunicationMode    string `bson:"communication_mode,omitempty"`
	LogCommunicationMode string `bson:"log_communication_mode,omitempty"`
	DriveSpaceParentID   string `bson:"drive_space_parent_id,omitempty"`
}

// erpDoc is the stored ERP configuration record.
type erpDoc struct {
	MandatePath string `bson:"mandate_path"`
	BankERP     string `bson:"bank_erp,omitempty"`
}

// ResolveContext builds the business context for (userID, companyID). The
// result is best-effort: a missing client record falls back to a
// deterministic client UUID, a missing mandate leaves the mandate fields
// empty, and optional fields get defaults. It errors only on store failures
// or when even the fallback cannot produce a dispatchable context.
func (s *ClientService) ResolveContext(httpCtx context.Context, userID, companyID string) (*models.Context, error) {
	if userID == "" {
		return nil, models.NewValidationError("user_id", "required")
	}
	if companyID == "" {
		return nil, models.NewValidationError("company_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	var client clientDoc
	clientUUID := ""
	err := s.db.Collection(database.CollClients).
		FindOne(ctx, bson.M{"user_id": userID}).
		Decode(&client)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		clientUUID = fallbackClientUUID(userID)
		slog.Warn("No client record, using fallback identity",
			"user_id", userID, "client_uuid", clientUUID)
	case err != nil:
		return nil, fmt.Errorf("failed to get client: %w", err)
	default:
		clientUUID = client.ClientUUID
	}

	result := &models.Context{ClientUUID: clientUUID}

	var mandate mandateDoc
	err = s.db.Collection(database.CollMandates).
		FindOne(ctx, bson.M{"client_uuid": clientUUID, "contact_space_id": companyID}).
		Decode(&mandate)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		slog.Warn("No mandate for company, returning best-effort context",
			"client_uuid", clientUUID, "company_id", companyID)
	case err != nil:
		return nil, fmt.Errorf("failed to get mandate: %w", err)
	default:
		result.MandatePath = mandate.MandatePath
		result.DMSSystem = mandate.DMSSystem
		result.CommunicationMode = mandate.CommunicationMode
		result.LogCommunicationMode = mandate.LogCommunicationMode
		result.DriveSpaceParentID = mandate.DriveSpaceParentID
		result.CompanyName = mandate.CompanyName
	}

	applyContextDefaults(result)
	if result.IsEmpty() {
		return nil, fmt.Errorf("context for client %s: %w", userID, ErrNotFound)
	}

	// ERP config is optional; threads without a bank integration skip it.
	if result.MandatePath != "" {
		var erp erpDoc
		err = s.db.Collection(database.CollERP).
			FindOne(ctx, bson.M{"mandate_path": result.MandatePath}).
			Decode(&erp)
		if err == nil {
			result.BankERP = erp.BankERP
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to get erp config: %w", err)
		}
	}

	return result, nil
}

// applyContextDefaults fills optional fields the source records omitted.
func applyContextDefaults(c *models.Context) {
	if c.DMSSystem == "" {
		c.DMSSystem = models.DefaultDMSSystem
	}
	if c.CommunicationMode == "" {
		c.CommunicationMode = models.DefaultCommunicationMode
	}
	if c.LogCommunicationMode == "" {
		c.LogCommunicationMode = models.DefaultLogCommunicationMode
	}
}

// fallbackClientUUID derives the deterministic stand-in identity from the
// first 8 runes of the user ID, used when no client record exists yet.
func fallbackClientUUID(userID string) string {
	runes := []rune(userID)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return "fallback_" + string(runes)
}
