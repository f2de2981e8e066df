package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
)

// configEnvOverride is the environment variable that overrides the
// configuration-file path (§6).
const configEnvOverride = "_GW_PNFP"

// OpcNodeEntry is one entry of the preferred "OpcNodes" list (§6).
type OpcNodeEntry struct {
	ExpandedNodeID        string   `json:"ExpandedNodeId"`
	OpcSamplingInterval   *float64 `json:"OpcSamplingInterval,omitempty"`
	OpcPublishingInterval *float64 `json:"OpcPublishingInterval,omitempty"`
}

// ConfigEntry is one record of the configuration file's top-level JSON
// array (§6). NodeId and OpcNodes are mutually exclusive; OpcNodes is
// preferred.
type ConfigEntry struct {
	EndpointURL string         `json:"EndpointUrl"`
	NodeID      string         `json:"NodeId,omitempty"`
	OpcNodes    []OpcNodeEntry `json:"OpcNodes,omitempty"`
}

// ResolveConfigPath applies the _GW_PNFP override to a default path
// (§6 Environment variables).
func ResolveConfigPath(defaultPath string) string {
	if override := os.Getenv(configEnvOverride); override != "" {
		return override
	}
	return defaultPath
}

// ReadConfig parses the configuration file's JSON array. A read failure is
// fatal at startup per §7's error taxonomy; callers should abort the
// process on error here.
func ReadConfig(path string) ([]ConfigEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigReadFailed, err)
	}
	var entries []ConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigReadFailed, err)
	}
	return entries, nil
}

// BuildSessions implements §4.4 buildSessions: for every configuration
// entry, register its node(s) for monitoring under the entry's endpoint,
// applying the supplied global defaults where a node omits its own
// interval. NodeId-form nodes need no namespace-update flag (their index
// is already concrete); ExpandedNodeId-form nodes are created with an
// unresolved namespace index so AddNodeForMonitoring naturally marks them
// UnmonitoredNamespaceUpdateRequested. An OpcNodes "ExpandedNodeId" value
// in the "ns=" notation (what PersistConfig writes for NodeId-form items)
// is read back as a NodeId-form node.
func (r *Registry) BuildSessions(ctx context.Context, entries []ConfigEntry, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs float64) error {
	for _, entry := range entries {
		if entry.NodeID != "" {
			nodeID, err := domain.ParseNodeID(entry.NodeID)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidConfigEntry, err)
			}
			identity := domain.NewNodeIdentity(nodeID.NamespaceIndex, nodeID.IdentifierType, nodeID.Identifier)
			if err := r.addFromConfig(ctx, entry.EndpointURL, sessionTimeoutMs, identity, defaultSamplingMs, defaultPublishingMs); err != nil {
				return err
			}
			continue
		}

		for _, node := range entry.OpcNodes {
			var identity domain.NodeIdentity
			if strings.HasPrefix(node.ExpandedNodeID, "ns=") {
				nodeID, err := domain.ParseNodeID(node.ExpandedNodeID)
				if err != nil {
					return fmt.Errorf("%w: %v", domain.ErrInvalidConfigEntry, err)
				}
				identity = domain.NewNodeIdentity(nodeID.NamespaceIndex, nodeID.IdentifierType, nodeID.Identifier)
			} else {
				expanded, err := domain.ParseExpandedNodeID(node.ExpandedNodeID)
				if err != nil {
					return fmt.Errorf("%w: %v", domain.ErrInvalidConfigEntry, err)
				}
				identity = domain.NewExpandedNodeIdentity(expanded.NamespaceURI, expanded.IdentifierType, expanded.Identifier, nil)
			}

			sampling := defaultSamplingMs
			if node.OpcSamplingInterval != nil {
				sampling = *node.OpcSamplingInterval
			}
			publishing := defaultPublishingMs
			if node.OpcPublishingInterval != nil {
				publishing = *node.OpcPublishingInterval
			}

			if err := r.addFromConfig(ctx, entry.EndpointURL, sessionTimeoutMs, identity, sampling, publishing); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) addFromConfig(ctx context.Context, endpointURL string, sessionTimeoutMs float64, identity domain.NodeIdentity, samplingMs, publishingMs float64) error {
	err := r.AddNodeForMonitoring(ctx, endpointURL, msToDuration(sessionTimeoutMs), identity, samplingMs, publishingMs, 0, true)
	if err == domain.ErrDuplicatePublishing {
		return nil
	}
	return err
}

// emittedEntry is the intermediate per-endpoint accumulator used while
// building the rewritten configuration file.
type emittedEntry struct {
	endpointURL string
	nodes       []OpcNodeEntry
}

// PersistConfig implements §4.4 updateNodeConfigurationFile: dump the
// current live state of every session (every item not RemovalRequested)
// as indented JSON, preserving each item's current identity form unless
// requestedType forces NodeId emission, and write atomically via
// write-then-rename (§9 Design Notes: the source writes in place).
func (r *Registry) PersistConfig(ctx context.Context, requestedType domain.IdentityKind, forceRequestedType bool) error {
	sessions := r.Sessions(ctx)

	if err := r.configMu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.configMu.Release(1)

	byEndpoint := make(map[string]*emittedEntry)
	order := make([]string, 0, len(sessions))

	for _, s := range sessions {
		entry, ok := byEndpoint[s.EndpointURI]
		if !ok {
			entry = &emittedEntry{endpointURL: s.EndpointURI}
			byEndpoint[s.EndpointURI] = entry
			order = append(order, s.EndpointURI)
		}

		var visitErr error
		err := s.ForEachItem(ctx, func(publishingIntervalMs float64, item *monitoreditem.MonitoredItem) {
			if item.State == monitoreditem.RemovalRequested {
				return
			}
			node, err := emitNode(item, publishingIntervalMs, requestedType, forceRequestedType, s.NamespaceTable)
			if err != nil {
				visitErr = err
				return
			}
			entry.nodes = append(entry.nodes, node)
		})
		if err != nil {
			return err
		}
		if visitErr != nil {
			return visitErr
		}
	}

	entries := make([]ConfigEntry, 0, len(order))
	for _, endpoint := range order {
		entries = append(entries, ConfigEntry{EndpointURL: endpoint, OpcNodes: byEndpoint[endpoint].nodes})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return writeFileAtomic(r.configPath, data)
}

func emitNode(item *monitoreditem.MonitoredItem, publishingIntervalMs float64, requestedType domain.IdentityKind, force bool, ns *domain.NamespaceTable) (OpcNodeEntry, error) {
	identity := item.Identity

	if force && identity.Kind != requestedType {
		switch requestedType {
		case domain.IdentityNodeID:
			if ns == nil {
				return OpcNodeEntry{}, fmt.Errorf("%w: namespace table unavailable for NodeId emission", domain.ErrInvalidConfigEntry)
			}
			resolved, ok := ns.ResolveToNodeID(identity.ExpandedNodeID)
			if !ok {
				return OpcNodeEntry{}, fmt.Errorf("%w: could not resolve %q to NodeId form", domain.ErrInvalidConfigEntry, identity.ExpandedNodeID.NamespaceURI)
			}
			identity = domain.NewNodeIdentity(resolved.NamespaceIndex, resolved.IdentifierType, resolved.Identifier)
		case domain.IdentityExpandedNodeID:
			if ns == nil {
				return OpcNodeEntry{}, fmt.Errorf("%w: namespace table unavailable for ExpandedNodeId emission", domain.ErrInvalidConfigEntry)
			}
			resolved, ok := ns.ResolveToExpanded(identity.NodeID)
			if !ok {
				return OpcNodeEntry{}, fmt.Errorf("%w: could not resolve namespace index %d", domain.ErrInvalidConfigEntry, identity.NodeID.NamespaceIndex)
			}
			identity = domain.NodeIdentity{Kind: domain.IdentityExpandedNodeID, ExpandedNodeID: resolved}
		}
	}

	var wire string
	switch identity.Kind {
	case domain.IdentityNodeID:
		wire = domain.FormatNodeID(identity.NodeID)
	default:
		wire = domain.FormatExpandedNodeID(identity.ExpandedNodeID)
	}

	sampling := item.RequestedSamplingInterval
	publishing := publishingIntervalMs
	return OpcNodeEntry{
		ExpandedNodeID:        wire,
		OpcSamplingInterval:   &sampling,
		OpcPublishingInterval: &publishing,
	}, nil
}

// writeFileAtomic writes data to a temp file in the same directory as
// path, then renames it into place (§9 Design Notes: atomic config
// write, replacing the source's in-place write).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// msToDuration converts a millisecond float (the unit every interval in
// the configuration file is expressed in) to a time.Duration.
func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
