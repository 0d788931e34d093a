package nodeconfig

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
	cerr "github.com/cockroachdb/errors"
)

// Tag paths of the managed fields in an agent config.xml.
const (
	TagDescription   = "description"
	TagRemoteFS      = "remoteFS"
	TagNumExecutors  = "numExecutors"
	TagMode          = "mode"
	TagLauncherHost  = "launcher/host"
	TagLauncherPort  = "launcher/port"
	TagCredentialsID = "launcher/credentialsId"
	TagLabel         = "label"
	TagRetention     = "retentionStrategy"
	TagHostKey       = "launcher/sshHostKeyVerificationStrategy"
	TagManualTrust   = "requireInitialManualTrust"
	TagLauncher      = "launcher"

	AttrClass = "class"

	// LauncherClass is the SSH Build Agents plugin launcher.
	LauncherClass = "hudson.plugins.sshslaves.SSHLauncher"

	// RetentionStrategyPrefix qualifies short retention strategy names such as "Always".
	RetentionStrategyPrefix = "hudson.slaves.RetentionStrategy$"
)

// Fields are the values this tool owns in a node's configuration.
type Fields struct {
	Description        string
	RemoteFS           string
	NumExecutors       int
	Mode               string
	Host               string
	Port               int
	CredentialsID      string
	Labels             string
	RetentionStrategy  string
	HostKeyStrategy    string
	RequireManualTrust bool
}

// RetentionClass expands a short retention strategy name to its Jenkins class.
// Names that already contain a package separator are returned unchanged.
func RetentionClass(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return RetentionStrategyPrefix + name
}

// Apply upserts every managed field into root. Unmanaged content is left as is.
func Apply(root *etree.Element, f Fields) error {
	texts := []struct{ path, value string }{
		{TagDescription, f.Description},
		{TagRemoteFS, f.RemoteFS},
		{TagNumExecutors, strconv.Itoa(f.NumExecutors)},
		{TagMode, f.Mode},
		{TagLauncherHost, f.Host},
		{TagLauncherPort, strconv.Itoa(f.Port)},
		{TagCredentialsID, f.CredentialsID},
		{TagLabel, f.Labels},
	}
	for _, t := range texts {
		if err := UpsertText(root, t.path, t.value); err != nil {
			return cerr.Wrapf(err, "set %s", t.path)
		}
	}

	if err := UpsertAttribute(root, TagRetention, AttrClass, RetentionClass(f.RetentionStrategy)); err != nil {
		return cerr.Wrapf(err, "set %s@%s", TagRetention, AttrClass)
	}
	if err := UpsertAttribute(root, TagHostKey, AttrClass, f.HostKeyStrategy); err != nil {
		return cerr.Wrapf(err, "set %s@%s", TagHostKey, AttrClass)
	}

	// The trust flag sits two levels down, so it is upserted relative to the strategy.
	strategy, err := Lookup(root, TagHostKey)
	if err != nil {
		return err
	}
	if err := UpsertText(strategy, TagManualTrust, strconv.FormatBool(f.RequireManualTrust)); err != nil {
		return cerr.Wrapf(err, "set %s/%s", TagHostKey, TagManualTrust)
	}

	// The host, port and credential children only mean something to the SSH launcher.
	if err := UpsertAttribute(root, TagLauncher, AttrClass, LauncherClass); err != nil {
		return cerr.Wrapf(err, "set %s@%s", TagLauncher, AttrClass)
	}
	return nil
}

// Read extracts the managed fields from root, for comparison and logging.
// Missing or unparsable numbers read as zero.
func Read(root *etree.Element) Fields {
	text := func(path string) string {
		el, _ := Lookup(root, path)
		if el == nil {
			return ""
		}
		return el.Text()
	}
	attr := func(path string) string {
		el, _ := Lookup(root, path)
		if el == nil {
			return ""
		}
		return el.SelectAttrValue(AttrClass, "")
	}

	f := Fields{
		Description:       text(TagDescription),
		RemoteFS:          text(TagRemoteFS),
		Mode:              text(TagMode),
		Host:              text(TagLauncherHost),
		CredentialsID:     text(TagCredentialsID),
		Labels:            text(TagLabel),
		RetentionStrategy: strings.TrimPrefix(attr(TagRetention), RetentionStrategyPrefix),
		HostKeyStrategy:   attr(TagHostKey),
	}
	f.NumExecutors, _ = strconv.Atoi(text(TagNumExecutors))
	f.Port, _ = strconv.Atoi(text(TagLauncherPort))

	if strategy, _ := Lookup(root, TagHostKey); strategy != nil {
		if trust := strategy.SelectElement(TagManualTrust); trust != nil {
			f.RequireManualTrust, _ = strconv.ParseBool(trust.Text())
		}
	}
	return f
}
