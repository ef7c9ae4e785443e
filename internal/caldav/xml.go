package caldav

import "strings"

// WebDAV multistatus response shapes. Field tags deliberately omit
// namespaces: servers disagree on prefixes and encoding/xml matches local
// names across namespaces when the tag carries none.

type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	DisplayName  string       `xml:"displayname"`
	ResourceType resourceType `xml:"resourcetype"`
	ETag         string       `xml:"getetag"`
	CalendarData string       `xml:"calendar-data"`
	Color        string       `xml:"calendar-color"`
	SupportedSet supportedSet `xml:"supported-calendar-component-set"`
}

type resourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

type supportedSet struct {
	Comps []supportedComp `xml:"comp"`
}

type supportedComp struct {
	Name string `xml:"name,attr"`
}

// okProp returns the prop block whose propstat reported a 2xx status.
func (r davResponse) okProp() (davProp, bool) {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop, true
		}
	}
	return davProp{}, false
}

// supportsVTODO reports whether the advertised component set includes
// VTODO. An absent or empty set counts as supporting everything: several
// servers omit the property entirely.
func (s supportedSet) supportsVTODO() bool {
	if len(s.Comps) == 0 {
		return true
	}
	for _, c := range s.Comps {
		if strings.EqualFold(c.Name, "VTODO") {
			return true
		}
	}
	return false
}

// Request bodies. Kept as literals: the queries are fixed apart from the
// UID match, and literal XML reads clearer than a marshalling layer.

const propfindVerifyBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:current-user-principal/>
  </d:prop>
</d:propfind>`

const propfindCalendarsBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:ic="http://apple.com/ns/ical/">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <ic:calendar-color/>
    <c:supported-calendar-component-set/>
  </d:prop>
</d:propfind>`

const reportAllBody = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VTODO"/>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`

const reportByUIDBody = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VTODO">
        <c:prop-filter name="UID">
          <c:text-match collation="i;octet">%s</c:text-match>
        </c:prop-filter>
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`
