/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import "errors"

// WorldACL produces an ACL list granting perms to anyone.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}

// Create creates a znode and returns the server-assigned path, which for
// sequence nodes differs from the input.
func (c *Conn) Create(path string, data []byte, flags int32, acl []ACL) (string, error) {
	if err := validatePath(path, flags&FlagSequence == FlagSequence); err != nil {
		return "", err
	}
	res := &createResponse{}
	_, err := c.request(opCreate, &createRequest{Path: c.serverPath(path), Data: data, ACL: acl, Flags: flags}, res, nil)
	if err != nil {
		return "", err
	}
	return c.stripChroot(res.Path), nil
}

// Delete deletes a znode at the given version, or any version when -1.
func (c *Conn) Delete(path string, version int32) error {
	if err := validatePath(path, false); err != nil {
		return err
	}
	_, err := c.request(opDelete, &deleteRequest{Path: c.serverPath(path), Version: version}, nil, nil)
	return err
}

// Exists tells the existence of a znode.
func (c *Conn) Exists(path string) (bool, *Stat, error) {
	if err := validatePath(path, false); err != nil {
		return false, nil, err
	}
	res := &existsResponse{}
	_, err := c.request(opExists, &existsRequest{Path: c.serverPath(path), Watch: false}, res, nil)
	if errors.Is(err, ErrNoNode) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, &res.Stat, nil
}

// ExistsW tells the existence of a znode and arms a watch for its creation,
// deletion or data change.
func (c *Conn) ExistsW(path string) (bool, *Stat, <-chan Event, error) {
	if err := validatePath(path, false); err != nil {
		return false, nil, nil, err
	}
	ech := make(chan Event, 1)
	wreg := &watchRegistration{path: path, wType: watchTypeExist, ch: ech}
	res := &existsResponse{}
	_, err := c.request(opExists, &existsRequest{Path: c.serverPath(path), Watch: true}, res, wreg)
	if errors.Is(err, ErrNoNode) {
		return false, nil, ech, nil
	}
	if err != nil {
		return false, nil, nil, err
	}
	return true, &res.Stat, ech, nil
}

// Get returns the contents of a znode.
func (c *Conn) Get(path string) ([]byte, *Stat, error) {
	if err := validatePath(path, false); err != nil {
		return nil, nil, err
	}
	res := &getDataResponse{}
	_, err := c.request(opGetData, &getDataRequest{Path: c.serverPath(path), Watch: false}, res, nil)
	if err != nil {
		return nil, nil, err
	}
	return res.Data, &res.Stat, nil
}

// GetW returns the contents of a znode and arms a data watch.
func (c *Conn) GetW(path string) ([]byte, *Stat, <-chan Event, error) {
	if err := validatePath(path, false); err != nil {
		return nil, nil, nil, err
	}
	ech := make(chan Event, 1)
	wreg := &watchRegistration{path: path, wType: watchTypeData, ch: ech}
	res := &getDataResponse{}
	_, err := c.request(opGetData, &getDataRequest{Path: c.serverPath(path), Watch: true}, res, wreg)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Data, &res.Stat, ech, nil
}

// Set updates the contents of a znode at the given version.
func (c *Conn) Set(path string, data []byte, version int32) (*Stat, error) {
	if err := validatePath(path, false); err != nil {
		return nil, err
	}
	res := &setDataResponse{}
	_, err := c.request(opSetData, &setDataRequest{Path: c.serverPath(path), Data: data, Version: version}, res, nil)
	if err != nil {
		return nil, err
	}
	return &res.Stat, nil
}

// Children returns the children of a znode.
func (c *Conn) Children(path string) ([]string, *Stat, error) {
	if err := validatePath(path, false); err != nil {
		return nil, nil, err
	}
	res := &getChildren2Response{}
	_, err := c.request(opGetChildren2, &getChildren2Request{Path: c.serverPath(path), Watch: false}, res, nil)
	if err != nil {
		return nil, nil, err
	}
	return res.Children, &res.Stat, nil
}

// ChildrenW returns the children of a znode and arms a child watch.
func (c *Conn) ChildrenW(path string) ([]string, *Stat, <-chan Event, error) {
	if err := validatePath(path, false); err != nil {
		return nil, nil, nil, err
	}
	ech := make(chan Event, 1)
	wreg := &watchRegistration{path: path, wType: watchTypeChild, ch: ech}
	res := &getChildren2Response{}
	_, err := c.request(opGetChildren2, &getChildren2Request{Path: c.serverPath(path), Watch: true}, res, wreg)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Children, &res.Stat, ech, nil
}

// GetACL returns the ACL of a znode.
func (c *Conn) GetACL(path string) ([]ACL, *Stat, error) {
	if err := validatePath(path, false); err != nil {
		return nil, nil, err
	}
	res := &getACLResponse{}
	_, err := c.request(opGetACL, &getACLRequest{Path: c.serverPath(path)}, res, nil)
	if err != nil {
		return nil, nil, err
	}
	return res.ACL, &res.Stat, nil
}

// SetACL updates the ACL of a znode at the given version.
func (c *Conn) SetACL(path string, acl []ACL, version int32) (*Stat, error) {
	if err := validatePath(path, false); err != nil {
		return nil, err
	}
	res := &setACLResponse{}
	_, err := c.request(opSetACL, &setACLRequest{Path: c.serverPath(path), ACL: acl, Version: version}, res, nil)
	if err != nil {
		return nil, err
	}
	return &res.Stat, nil
}

// Sync flushes the leader channel for a znode so subsequent reads observe
// all writes acknowledged before the call.
func (c *Conn) Sync(path string) (string, error) {
	if err := validatePath(path, false); err != nil {
		return "", err
	}
	res := &syncResponse{}
	_, err := c.request(opSync, &syncRequest{Path: c.serverPath(path)}, res, nil)
	if err != nil {
		return "", err
	}
	return c.stripChroot(res.Path), nil
}

// AddAuth stores an authentication record and transmits it with the
// reserved auth xid. Stored records are replayed on every reconnect. The
// server's verdict is observed asynchronously by the receiver loop.
func (c *Conn) AddAuth(scheme string, auth []byte) error {
	c.credsMu.Lock()
	c.creds = append(c.creds, authCreds{scheme: scheme, auth: auth})
	c.credsMu.Unlock()

	if c.closing.Load() {
		return ErrClosing
	}
	switch c.State() {
	case StateClosed:
		return ErrSessionExpired
	case StateAuthFailed:
		return ErrAuthFailed
	}

	c.submitMu.Lock()
	p, err := newPacket(c.scratch, &requestHeader{Xid: xidAuth, Opcode: opSetAuth}, &setAuthRequest{Type: 0, Scheme: scheme, Auth: auth})
	if err != nil {
		c.submitMu.Unlock()
		return err
	}
	c.outgoing.pushBack(p)
	c.submitMu.Unlock()

	if !p.waitUntilFinished(c.cfg.SessionTimeout) {
		return ErrTimeout
	}
	return p.err
}
