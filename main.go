//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/cmd"
)

func main() {
	cmd.Execute()
}
