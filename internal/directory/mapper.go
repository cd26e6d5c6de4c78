package directory

import (
	"encoding/base64"

	"github.com/go-ldap/ldap/v3"
)

// Active Directory attribute names read by the connector
const (
	attrCommonName  = "cn"
	attrMail        = "mail"
	attrLogin       = "sAMAccountName"
	attrPrincipal   = "userPrincipalName"
	attrTitle       = "title"
	attrDepartment  = "department"
	attrManager     = "manager"
	attrPhone       = "telephoneNumber"
	attrMobile      = "mobile"
	attrPhoto       = "thumbnailPhoto"
	activeUserQuery = "(&(objectClass=user)(objectCategory=person)(!(userAccountControl:1.2.840.113556.1.4.803:=2)))"
)

// syncAttributes returns the attributes requested by a synchronization pass.
// The photo is only requested when asked for; thumbnails are large.
func syncAttributes(includePhoto bool) []string {
	attrs := []string{
		attrCommonName,
		attrMail,
		attrLogin,
		attrPrincipal,
		attrTitle,
		attrDepartment,
		attrManager,
		attrPhone,
		attrMobile,
	}
	if includePhoto {
		attrs = append(attrs, attrPhoto)
	}
	return attrs
}

// profileAttributes is the minimal set fetched after a successful user bind
var profileAttributes = []string{attrCommonName, attrMail, attrTitle, attrDepartment, attrManager}

// MapUserEntry maps an LDAP entry to a User. The photo is encoded only when includePhoto is set.
func MapUserEntry(entry *ldap.Entry, includePhoto bool) User {
	u := User{
		DN:         entry.DN,
		Name:       optionalAttr(entry, attrCommonName),
		Email:      optionalAttr(entry, attrMail),
		Login:      optionalAttr(entry, attrLogin),
		Title:      optionalAttr(entry, attrTitle),
		Department: optionalAttr(entry, attrDepartment),
		ManagerDN:  optionalAttr(entry, attrManager),
		Phone:      optionalAttr(entry, attrPhone),
		Mobile:     optionalAttr(entry, attrMobile),
	}
	if includePhoto {
		if raw := entry.GetRawAttributeValue(attrPhoto); len(raw) > 0 {
			encoded := base64.StdEncoding.EncodeToString(raw)
			u.PhotoBase64 = &encoded
		}
	}
	return u
}

// optionalAttr returns the first value of attr, or nil when it is missing or empty
func optionalAttr(entry *ldap.Entry, attr string) *string {
	v := entry.GetAttributeValue(attr)
	if v == "" {
		return nil
	}
	return &v
}
