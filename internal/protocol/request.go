package protocol

import (
	"fmt"
	"math"
)

// Command names understood by the connector. The legacy names are accepted
// as aliases.
const (
	CommandPing            = "ping"
	CommandSyncUsers       = "sync_users"
	CommandAuthenticate    = "authenticate"
	CommandGetCalendar     = "get_calendar"
	CommandGetUser         = "get_user"
	CommandGetSubordinates = "get_subordinates"

	aliasSyncADUsers    = "sync_ad_users"
	aliasAuthenticateAD = "authenticate_ad"
	aliasSyncCalendar   = "sync_calendar"
)

const (
	DefaultDaysBack    = 7
	DefaultDaysForward = 30
)

// Request is the typed form of a Command
type Request interface {
	// Name returns the canonical command name
	Name() string
}

type PingRequest struct{}

func (PingRequest) Name() string { return CommandPing }

// SyncUsersRequest asks for a full directory synchronization pass
type SyncUsersRequest struct {
	RequireDepartment bool
	IncludePhoto      bool
}

func (SyncUsersRequest) Name() string { return CommandSyncUsers }

type AuthenticateRequest struct {
	Username string
	Password string
}

func (AuthenticateRequest) Name() string { return CommandAuthenticate }

// GetCalendarRequest asks for the events of Email between DaysBack days ago
// and DaysForward days ahead. Username and Password optionally override the
// calendar service account.
type GetCalendarRequest struct {
	Email       string
	DaysBack    int
	DaysForward int
	Username    string
	Password    string
}

func (GetCalendarRequest) Name() string { return CommandGetCalendar }

// GetUserRequest looks up one user by email or DN
type GetUserRequest struct {
	Email string
	DN    string
}

func (GetUserRequest) Name() string { return CommandGetUser }

type GetSubordinatesRequest struct {
	ManagerDN string
}

func (GetSubordinatesRequest) Name() string { return CommandGetSubordinates }

// UnsupportedRequest carries a command name the connector does not know
type UnsupportedRequest struct {
	Command string
}

func (r UnsupportedRequest) Name() string { return r.Command }

// Decode converts the parameter bag of cmd into its typed request. Unknown
// commands decode to UnsupportedRequest without error; parameters of the
// wrong type are an error.
func Decode(cmd Command) (Request, error) {
	p := params(cmd.Params)

	switch cmd.Command {
	case CommandPing:
		return PingRequest{}, nil

	case CommandSyncUsers, aliasSyncADUsers:
		req := SyncUsersRequest{RequireDepartment: true, IncludePhoto: true}
		var err error
		if req.RequireDepartment, err = p.boolean("require_department", req.RequireDepartment); err != nil {
			return nil, err
		}
		key := "include_photo"
		if _, ok := p["include_photo"]; !ok {
			key = "include_photos"
		}
		if req.IncludePhoto, err = p.boolean(key, req.IncludePhoto); err != nil {
			return nil, err
		}
		return req, nil

	case CommandAuthenticate, aliasAuthenticateAD:
		var req AuthenticateRequest
		var err error
		if req.Username, err = p.str("username"); err != nil {
			return nil, err
		}
		if req.Password, err = p.str("password"); err != nil {
			return nil, err
		}
		return req, nil

	case CommandGetCalendar, aliasSyncCalendar:
		req := GetCalendarRequest{DaysBack: DefaultDaysBack, DaysForward: DefaultDaysForward}
		var err error
		if req.Email, err = p.str("email"); err != nil {
			return nil, err
		}
		if req.Email == "" {
			return nil, fmt.Errorf("email is required")
		}
		if req.DaysBack, err = p.integer("days_back", req.DaysBack); err != nil {
			return nil, err
		}
		if req.DaysForward, err = p.integer("days_forward", req.DaysForward); err != nil {
			return nil, err
		}
		if req.Username, err = p.str("username"); err != nil {
			return nil, err
		}
		if req.Password, err = p.str("password"); err != nil {
			return nil, err
		}
		return req, nil

	case CommandGetUser:
		var req GetUserRequest
		var err error
		if req.Email, err = p.str("email"); err != nil {
			return nil, err
		}
		if req.DN, err = p.str("dn"); err != nil {
			return nil, err
		}
		if req.Email == "" && req.DN == "" {
			return nil, fmt.Errorf("email or dn is required")
		}
		return req, nil

	case CommandGetSubordinates:
		var req GetSubordinatesRequest
		var err error
		if req.ManagerDN, err = p.str("manager_dn"); err != nil {
			return nil, err
		}
		if req.ManagerDN == "" {
			return nil, fmt.Errorf("manager_dn is required")
		}
		return req, nil

	default:
		return UnsupportedRequest{Command: cmd.Command}, nil
	}
}

type params map[string]interface{}

// boolean returns the bool at key, def when absent or null
func (p params) boolean(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// str returns the string at key, "" when absent or null
func (p params) str(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// integer returns the non-negative whole number at key, def when absent or null
func (p params) integer(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return int(f), nil
}
