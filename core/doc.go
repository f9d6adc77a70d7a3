/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package core provides the data model for correlation-based session
// routing: Messages, Sessions with their Mailboxes, CorrelationSets,
// and the Definition of a deployed process.
//
// A message carries no session identifier.  Instead, a Definition
// declares CorrelationSets, each of which says which values in a
// message must equal which values in a session's state for the
// message to belong to that session.  Package correlation does the
// matching; package process starts and supervises sessions.
package core
