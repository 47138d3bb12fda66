package mqtt

import "strings"

// topics builds the bridge topic names.
type topics struct {
	prefix    string
	discovery string
}

func (t topics) status() string               { return t.prefix + "/status" }
func (t topics) lightSet(obj string) string   { return t.prefix + "/light/" + obj + "/set" }
func (t topics) lightState(obj string) string { return t.prefix + "/light/" + obj + "/state" }
func (t topics) lightConfig(obj string) string {
	return t.discovery + "/light/" + obj + "/config"
}
func (t topics) allLightSet() string    { return t.prefix + "/light/+/set" }
func (t topics) allLightAction() string { return t.prefix + "/light/+/action" }
func (t topics) pairList() string       { return t.prefix + "/pair/list" }
func (t topics) pairDevices() string    { return t.prefix + "/pair/devices" }
func (t topics) pairDiscovered() string { return t.prefix + "/pair/discovered" }
func (t topics) pairAdd() string        { return t.prefix + "/pair/add" }
func (t topics) pairDelete() string     { return t.prefix + "/pair/delete" }

// lightObject extracts the object id from <prefix>/light/<obj>/<leaf>.
func (t topics) lightObject(topic, leaf string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/light/")
	if !ok {
		return "", false
	}
	obj, ok := strings.CutSuffix(rest, "/"+leaf)
	if !ok || obj == "" || strings.Contains(obj, "/") {
		return "", false
	}
	return obj, true
}
